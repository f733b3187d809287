package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// Buckets names the buckets the pipeline reads from and writes to.
type Buckets struct {
	Footage  string
	Analysis string
	Frames   string
}

type Client struct {
	client  *minio.Client
	buckets Buckets
}

func NewMinioClient(endpoint, accessKey, secretKey string, secure bool, buckets Buckets) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client, buckets: buckets}, nil
}

func (c *Client) EnsureBucketExists(ctx context.Context, bucketName string) error {
	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return err
	}
	if !exists {
		return c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
	}
	return nil
}

// EnsureBuckets creates the analysis and frames buckets when missing. The
// footage bucket is owned by the uploader and only checked.
func (c *Client) EnsureBuckets(ctx context.Context) error {
	for _, b := range []string{c.buckets.Analysis, c.buckets.Frames} {
		if err := c.EnsureBucketExists(ctx, b); err != nil {
			return fmt.Errorf("bucket %s: %w", b, err)
		}
	}
	exists, err := c.client.BucketExists(ctx, c.buckets.Footage)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", c.buckets.Footage, err)
	}
	if !exists {
		return fmt.Errorf("footage bucket %s does not exist", c.buckets.Footage)
	}
	return nil
}

// DownloadVideo copies a footage object to a local file.
func (c *Client) DownloadVideo(ctx context.Context, key, dest string) error {
	if err := c.client.FGetObject(ctx, c.buckets.Footage, key, dest, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s/%s: %w", c.buckets.Footage, key, err)
	}
	return nil
}

// UploadJSON stores v as an indented JSON document in the analysis bucket.
func (c *Client) UploadJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return c.put(ctx, c.buckets.Analysis, key, bytes.NewReader(data), int64(len(data)), "application/json")
}

// UploadFile stores a local file in the analysis bucket.
func (c *Client) UploadFile(ctx context.Context, key, filePath, contentType string) error {
	_, err := c.client.FPutObject(ctx, c.buckets.Analysis, key, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Location is the URI of an analysis prefix, used in notifications.
func (c *Client) Location(prefix string) string {
	return fmt.Sprintf("s3://%s/%s/", c.buckets.Analysis, strings.TrimSuffix(prefix, "/"))
}

// SaveDetectionResults caches the detections of one sampled frame so a
// restarted job can skip frames already sent to the model.
func (c *Client) SaveDetectionResults(ctx context.Context, jobID string, frameIndex int, detections []models.Detection) error {
	data, err := json.Marshal(detections)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}
	if err := c.put(ctx, c.buckets.Frames, DetectionKey(jobID, frameIndex), bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("failed to save detections to S3: %w", err)
	}
	return nil
}

// LoadDetectionResults returns the cached detections of a job by frame index.
func (c *Client) LoadDetectionResults(ctx context.Context, jobID string) (map[int][]models.Detection, error) {
	out := make(map[int][]models.Detection)
	objectCh := c.client.ListObjects(ctx, c.buckets.Frames, minio.ListObjectsOptions{
		Prefix:    jobID + "/",
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}
		idx, ok := parseDetectionKey(object.Key)
		if !ok {
			continue
		}

		obj, err := c.client.GetObject(ctx, c.buckets.Frames, object.Key, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(obj)
		obj.Close()
		if err != nil {
			return nil, err
		}

		var detections []models.Detection
		if err := json.Unmarshal(data, &detections); err != nil {
			return nil, fmt.Errorf("decode %s: %w", object.Key, err)
		}
		out[idx] = detections
	}
	return out, nil
}

func (c *Client) put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := c.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// AnalysisPrefix is where results of one camera-day live: "<camera>/<YYYY-MM-DD>".
func AnalysisPrefix(cameraID string, videoStart time.Time) string {
	return cameraID + "/" + videoStart.Format(time.DateOnly)
}

func ReportKey(prefix string) string  { return path.Join(prefix, "threat_report.json") }
func SummaryKey(prefix string) string { return path.Join(prefix, "summary.json") }

func ClipKey(prefix, label string) string {
	return path.Join(prefix, "flagged_clips", label+".mp4")
}

func DetectionKey(jobID string, frameIndex int) string {
	return fmt.Sprintf("%s/%06d.json", jobID, frameIndex)
}

func parseDetectionKey(key string) (int, bool) {
	name := strings.TrimSuffix(path.Base(key), ".json")
	if name == path.Base(key) {
		return 0, false
	}
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}
