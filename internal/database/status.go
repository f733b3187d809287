package database

import (
	"errors"
	"fmt"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

var ErrInvalidTransition = errors.New("invalid job status transition")

// jobTransitions lists the statuses a job may move to from each status. Failed
// and stuck processing jobs go back to queued for another attempt.
var jobTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobQueued:     {models.JobProcessing},
	models.JobProcessing: {models.JobDone, models.JobFailed, models.JobQueued},
	models.JobFailed:     {models.JobQueued},
	models.JobDone:       {},
}

func IsValidStatusTransition(current, next models.JobStatus) bool {
	for _, allowed := range jobTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

func checkTransition(jobID string, current, next models.JobStatus) error {
	if !IsValidStatusTransition(current, next) {
		return fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, jobID, current, next)
	}
	return nil
}
