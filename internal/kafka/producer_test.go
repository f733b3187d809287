package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

var testTopics = Topics{Jobs: "video-jobs", Heartbeats: "job-heartbeats", Notifications: "threat-notifications"}

func TestSendHeartbeat(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(sp, testTopics)

	ts := time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var hb models.Heartbeat
		if err := json.Unmarshal(val, &hb); err != nil {
			return err
		}
		if hb.JobID != "job-1" || hb.Frame != 120 || hb.Status != models.JobProcessing {
			return errors.New("unexpected heartbeat")
		}
		return nil
	})

	require.NoError(t, p.SendHeartbeat(models.Heartbeat{JobID: "job-1", Status: models.JobProcessing, Frame: 120, TimeStamp: ts}))
	require.NoError(t, p.Close())
}

func TestSendJob(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(sp, testTopics)

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var job models.VideoJob
		if err := json.Unmarshal(val, &job); err != nil {
			return err
		}
		if job.VideoKey != "3/2025-01-15/video_233000.mp4" {
			return errors.New("unexpected video key")
		}
		return nil
	})

	require.NoError(t, p.SendJob(models.VideoJob{JobID: "job-1", VideoKey: "3/2025-01-15/video_233000.mp4"}))
	require.NoError(t, p.Close())
}

func TestPublishNotification_Failure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(sp, testTopics)

	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	err := p.PublishNotification("job-1", []byte(`{}`))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestSend_MissingTopic(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(sp, Topics{})

	assert.Error(t, p.SendJob(models.VideoJob{JobID: "job-1"}))
	require.NoError(t, p.Close())
}
