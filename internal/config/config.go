package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/local.yaml"

type Config struct {
	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint       string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey      string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey      string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Secure         bool   `yaml:"secure" env:"MINIO_SECURE"`
		FootageBucket  string `yaml:"footage_bucket" env:"FOOTAGE_BUCKET"`
		AnalysisBucket string `yaml:"analysis_bucket" env:"ANALYSIS_BUCKET"`
		FramesBucket   string `yaml:"frames_bucket" env:"FRAMES_BUCKET"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers           []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID           string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		JobTopic          string   `yaml:"job_topic" env:"JOB_TOPIC"`
		HeartbeatTopic    string   `yaml:"heartbeat_topic" env:"HEARTBEAT_TOPIC"`
		NotificationTopic string   `yaml:"notification_topic" env:"NOTIFICATION_TOPIC"`
	} `yaml:"kafka"`

	Detection struct {
		Endpoint string        `yaml:"endpoint" env:"DETECTION_ENDPOINT"`
		Timeout  time.Duration `yaml:"timeout" env:"DETECTION_TIMEOUT"`
	} `yaml:"detection"`

	Backend struct {
		URL     string        `yaml:"url" env:"BACKEND_URL"`
		Token   string        `yaml:"token" env:"BACKEND_TOKEN"`
		Timeout time.Duration `yaml:"timeout" env:"BACKEND_TIMEOUT"`
	} `yaml:"backend"`

	// Pipeline drives the live camera loops.
	Pipeline struct {
		Enabled        bool          `yaml:"enabled" env:"PIPELINE_ENABLED"`
		PollInterval   time.Duration `yaml:"poll_interval" env:"CAMERA_POLL_INTERVAL"`
		StreamTimeout  time.Duration `yaml:"stream_timeout" env:"STREAM_TIMEOUT"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
		AlertCooldown  time.Duration `yaml:"alert_cooldown" env:"ALERT_COOLDOWN"`
		ConfigTTL      time.Duration `yaml:"config_ttl" env:"CONFIG_TTL"`
		// NativeFPS is assumed for streams whose rate cannot be probed.
		NativeFPS  float64 `yaml:"native_fps" env:"STREAM_NATIVE_FPS"`
		MaxCameras int     `yaml:"max_cameras" env:"MAX_CAMERAS"`
		// ConfigFile replaces the backend as the detection config source.
		ConfigFile string `yaml:"config_file" env:"DETECTION_CONFIG_FILE"`
	} `yaml:"pipeline"`

	// Batch drives the recorded footage runner.
	Batch struct {
		Enabled        bool          `yaml:"enabled" env:"BATCH_ENABLED"`
		SampleFPS      float64       `yaml:"sample_fps" env:"BATCH_SAMPLE_FPS"`
		DefaultFPS     float64       `yaml:"default_fps" env:"BATCH_DEFAULT_FPS"`
		ClipSeconds    float64       `yaml:"clip_seconds" env:"CLIP_SECONDS"`
		WorkDir        string        `yaml:"work_dir" env:"BATCH_WORK_DIR"`
		MaxConcurrent  int           `yaml:"max_concurrent" env:"BATCH_MAX_CONCURRENT"`
		OutboxInterval time.Duration `yaml:"outbox_interval" env:"OUTBOX_INTERVAL"`
		WatchInterval  time.Duration `yaml:"watch_interval" env:"WATCH_INTERVAL"`
	} `yaml:"batch"`

	Notify struct {
		Enabled bool          `yaml:"enabled" env:"NOTIFY_ENABLED"`
		URLs    []string      `yaml:"urls" env:"NOTIFY_URLS" envSeparator:" "`
		Timeout time.Duration `yaml:"timeout" env:"NOTIFY_TIMEOUT"`
	} `yaml:"notify"`

	HTTP struct {
		Addr string `yaml:"addr" env:"HTTP_ADDR"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"log"`
}

// Default returns the values used for anything the file and the
// environment leave unset.
func Default() *Config {
	cfg := &Config{}

	cfg.Minio.FootageBucket = "cctv-footage"
	cfg.Minio.AnalysisBucket = "cctv-analysis"
	cfg.Minio.FramesBucket = "cctv-frames"

	cfg.Kafka.GroupID = "survwatch-runner"
	cfg.Kafka.JobTopic = "video-jobs"
	cfg.Kafka.HeartbeatTopic = "job-heartbeats"
	cfg.Kafka.NotificationTopic = "threat-notifications"

	cfg.Detection.Endpoint = "http://localhost:8000"
	cfg.Detection.Timeout = 10 * time.Second

	cfg.Backend.URL = "http://localhost:8080"
	cfg.Backend.Timeout = 10 * time.Second

	cfg.Pipeline.Enabled = true
	cfg.Pipeline.PollInterval = 60 * time.Second
	cfg.Pipeline.StreamTimeout = 10 * time.Second
	cfg.Pipeline.ReconnectDelay = 5 * time.Second
	cfg.Pipeline.AlertCooldown = 5 * time.Second
	cfg.Pipeline.ConfigTTL = 5 * time.Minute
	cfg.Pipeline.NativeFPS = 30

	cfg.Batch.SampleFPS = 1
	cfg.Batch.DefaultFPS = 30
	cfg.Batch.ClipSeconds = 30
	cfg.Batch.MaxConcurrent = 1
	cfg.Batch.OutboxInterval = 5 * time.Second
	cfg.Batch.WatchInterval = 30 * time.Second

	cfg.Notify.Timeout = 10 * time.Second

	cfg.HTTP.Addr = ":8002"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// LoadConfig reads defaults, then the YAML file, then environment
// variables. An empty filename reads DefaultPath and tolerates its absence.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()

	path := filename
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && filename == "":
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	positive := map[string]time.Duration{
		"detection.timeout":        c.Detection.Timeout,
		"backend.timeout":          c.Backend.Timeout,
		"pipeline.poll_interval":   c.Pipeline.PollInterval,
		"pipeline.stream_timeout":  c.Pipeline.StreamTimeout,
		"pipeline.reconnect_delay": c.Pipeline.ReconnectDelay,
		"pipeline.config_ttl":      c.Pipeline.ConfigTTL,
		"batch.outbox_interval":    c.Batch.OutboxInterval,
		"batch.watch_interval":     c.Batch.WatchInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Pipeline.AlertCooldown < 0 {
		errs = append(errs, fmt.Errorf("pipeline.alert_cooldown must not be negative"))
	}
	if c.Pipeline.NativeFPS < 0 {
		errs = append(errs, fmt.Errorf("pipeline.native_fps must not be negative"))
	}
	if c.Pipeline.MaxCameras < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_cameras must not be negative"))
	}
	if c.Pipeline.Enabled && c.Pipeline.ConfigFile == "" && c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required for the live pipeline"))
	}

	if c.Batch.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required when batch is enabled"))
		}
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required when batch is enabled"))
		}
		if c.Minio.Endpoint == "" {
			errs = append(errs, errors.New("minio.endpoint is required when batch is enabled"))
		}
		if c.Batch.SampleFPS <= 0 || c.Batch.DefaultFPS <= 0 || c.Batch.ClipSeconds <= 0 {
			errs = append(errs, errors.New("batch fps and clip_seconds must be positive"))
		}
	}
	if c.Notify.Enabled && len(c.Notify.URLs) == 0 {
		errs = append(errs, errors.New("notify.urls is required when notify is enabled"))
	}
	return errors.Join(errs...)
}
