package models

import "time"

type MonitorMode string

const (
	MonitorAlways     MonitorMode = "always"
	MonitorAfterHours MonitorMode = "after_hours"
	MonitorCustom     MonitorMode = "custom"
)

type ThreatLevel string

const (
	ThreatHigh   ThreatLevel = "HIGH"
	ThreatMedium ThreatLevel = "MEDIUM"
	ThreatLow    ThreatLevel = "LOW"
	ThreatIgnore ThreatLevel = "IGNORE"
)

// Rule describes how one detector class is treated.
type Rule struct {
	ObjectClass string      `json:"object_class"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	ShouldAlert bool        `json:"should_alert"`
	// MinConfidence falls back to DetectionConfig.ConfidenceThreshold when nil.
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// DetectionConfig is an immutable per-camera snapshot. It is replaced as a whole
// on every update and never mutated in place.
type DetectionConfig struct {
	MonitorMode         MonitorMode
	ActiveStart         ClockTime
	ActiveEnd           ClockTime
	Timezone            string
	ConfidenceThreshold float64
	FrameSkip           int
	Rules               map[string]Rule
	// RuleOrder keeps the order rules were configured in.
	RuleOrder []string
}

// DetectionConfigPayload is the backend wire format of a DetectionConfig.
type DetectionConfigPayload struct {
	MonitorMode         string        `json:"monitor_mode" yaml:"monitor_mode"`
	ActiveHoursStart    string        `json:"active_hours_start" yaml:"active_hours_start"`
	ActiveHoursEnd      string        `json:"active_hours_end" yaml:"active_hours_end"`
	Timezone            string        `json:"timezone" yaml:"timezone"`
	ConfidenceThreshold *float64      `json:"confidence_threshold,omitempty" yaml:"confidence_threshold"`
	FrameSkip           int           `json:"frame_skip" yaml:"frame_skip"`
	Rules               []RulePayload `json:"rules" yaml:"rules"`
}

type RulePayload struct {
	ObjectClass   string   `json:"object_class" yaml:"object_class"`
	ThreatLevel   string   `json:"threat_level" yaml:"threat_level"`
	ShouldAlert   bool     `json:"should_alert" yaml:"should_alert"`
	MinConfidence *float64 `json:"min_confidence,omitempty" yaml:"min_confidence"`
}

// Detection is one object found by the detection model in a frame
type Detection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
}

// FrameBatch holds the detections of one sampled frame. A zero Timestamp means
// the frame carries no usable time.
type FrameBatch struct {
	FrameNumber int64       `json:"frame_number"`
	Timestamp   time.Time   `json:"timestamp"`
	Detections  []Detection `json:"detections"`
}

// ThreatRecord is a classified detection. It is never modified after creation.
type ThreatRecord struct {
	FrameNumber int64       `json:"frame_number"`
	Timestamp   time.Time   `json:"timestamp"`
	ObjectClass string      `json:"detected_class"`
	Confidence  float64     `json:"confidence"`
	BBox        []float64   `json:"bbox"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	Alert       bool        `json:"alert"`
	Reason      string      `json:"reason"`
}

type ClassBreakdown struct {
	Count int         `json:"count"`
	Level ThreatLevel `json:"level"`
}

type ThreatSummary struct {
	TotalThreats    int                       `json:"total_threats"`
	HighThreats     int                       `json:"high_threats"`
	MediumThreats   int                       `json:"medium_threats"`
	LowThreats      int                       `json:"low_threats"`
	AlertsTriggered int                       `json:"alerts_triggered"`
	ThreatBreakdown map[string]ClassBreakdown `json:"threat_breakdown"`
	FirstThreat     *time.Time                `json:"first_threat"`
	LastThreat      *time.Time                `json:"last_threat"`
}

// ThreatReport is the document persisted for a finished analysis.
type ThreatReport struct {
	Summary ThreatSummary  `json:"summary"`
	Threats []ThreatRecord `json:"threats"`
}

// AlertRequest is the payload sent to the backend for one outbound alert.
type AlertRequest struct {
	CameraID    string  `json:"camera_id"`
	AlertType   string  `json:"alert_type"`
	Confidence  float64 `json:"confidence"`
	ImageBase64 string  `json:"image_base64"`
	Description string  `json:"description"`
}

// ClipRequest asks the video layer to cut one clip around a group of threats.
type ClipRequest struct {
	StartSeconds    float64 `json:"start_time_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	Label           string  `json:"label"`
	AnchorFrame     int64   `json:"anchor_frame"`
	Threats         int     `json:"threats"`
}

type Camera struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	RTSPURL string `json:"rtsp_url"`
}

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// VideoJob is the Kafka command asking the runner to analyze one recorded video.
type VideoJob struct {
	JobID      string     `json:"job_id"`
	CameraID   string     `json:"camera_id,omitempty"`
	VideoKey   string     `json:"video_key"`
	VideoStart *time.Time `json:"video_start,omitempty"`
	FPS        float64    `json:"fps,omitempty"`
}

// Job is the persisted state of a VideoJob
type Job struct {
	ID         string    `json:"id"`
	CameraID   string    `json:"camera_id"`
	VideoKey   string    `json:"video_key"`
	Status     JobStatus `json:"status"`
	FramesDone int64     `json:"frames_done"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Heartbeat struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Frame     int64     `json:"frame"`
	TimeStamp time.Time `json:"timestamp"`
}

// ThreatNotification is published once per analyzed video that produced alerts.
type ThreatNotification struct {
	JobID           string         `json:"job_id"`
	CameraID        string         `json:"camera_id"`
	VideoStart      time.Time      `json:"video_start"`
	ResultsLocation string         `json:"results_location"`
	Summary         ThreatSummary  `json:"summary"`
	Threats         []ThreatRecord `json:"threats"`
}

// OutboxMessage is a pending notification stored with the job results.
type OutboxMessage struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	CameraID    string     `json:"camera_id"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// ProcessingSummary is written next to the threat report of a batch job.
type ProcessingSummary struct {
	VideoKey              string        `json:"video_key"`
	CameraID              string        `json:"camera_id"`
	VideoDatetime         time.Time     `json:"video_datetime"`
	ProcessedAt           time.Time     `json:"processed_at"`
	ProcessingTimeSeconds float64       `json:"processing_time_seconds"`
	FramesAnalyzed        int           `json:"frames_analyzed"`
	ThreatSummary         ThreatSummary `json:"threat_summary"`
	ClipsExtracted        int           `json:"clips_extracted"`
	AlertsToSend          int           `json:"alerts_to_send"`
}
