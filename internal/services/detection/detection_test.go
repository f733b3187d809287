package detection

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

func TestDetect(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	frame := []byte{0xff, 0xd8, 0x01, 0x02, 0xff, 0xd9}
	httpmock.RegisterResponder(http.MethodPost, "http://model.test/predict",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			file, header, err := req.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			body, _ := io.ReadAll(file)
			assert.Equal(t, frame, body)
			assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

			return httpmock.NewStringResponse(http.StatusOK, `{"detections": [
				{"class": "person", "confidence": 0.91, "bbox": [10, 20, 110, 220]},
				{"class": "car", "confidence": 0.64, "bbox": [0, 0, 50, 50]}
			]}`), nil
		})

	c := NewClient("http://model.test/", time.Second)
	got, err := c.Detect(context.Background(), frame, "camera-3")
	require.NoError(t, err)
	assert.Equal(t, []models.Detection{
		{Class: "person", Confidence: 0.91, BBox: []float64{10, 20, 110, 220}},
		{Class: "car", Confidence: 0.64, BBox: []float64{0, 0, 50, 50}},
	}, got)
}

func TestDetect_BadStatus(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder(http.MethodPost, "http://model.test/predict",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "model loading"))

	_, err := NewClient("http://model.test", time.Second).Detect(context.Background(), []byte{1}, "camera-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model loading")
}

func TestDetect_EmptyResult(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder(http.MethodPost, "http://model.test/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"detections": []}`))

	got, err := NewClient("http://model.test", time.Second).Detect(context.Background(), []byte{1}, "job-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
