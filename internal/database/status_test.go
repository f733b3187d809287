package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

func TestIsValidStatusTransition(t *testing.T) {
	tests := []struct {
		from, to models.JobStatus
		want     bool
	}{
		{models.JobQueued, models.JobProcessing, true},
		{models.JobProcessing, models.JobDone, true},
		{models.JobProcessing, models.JobFailed, true},
		{models.JobProcessing, models.JobQueued, true},
		{models.JobFailed, models.JobQueued, true},
		{models.JobQueued, models.JobDone, false},
		{models.JobDone, models.JobQueued, false},
		{models.JobDone, models.JobProcessing, false},
		{models.JobFailed, models.JobDone, false},
		{models.JobStatus("unknown"), models.JobQueued, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidStatusTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, checkTransition("j1", models.JobQueued, models.JobProcessing))
	assert.ErrorIs(t, checkTransition("j1", models.JobDone, models.JobProcessing), ErrInvalidTransition)
}
