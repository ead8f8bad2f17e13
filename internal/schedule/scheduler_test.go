package schedule

import (
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs int32
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run() error {
	atomic.AddInt32(&j.runs, 1)
	return nil
}

func TestRunNowExecutesJobImmediately(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test-job"}

	require.NoError(t, s.RunNow(job))
	assert.EqualValues(t, 1, atomic.LoadInt32(&job.runs))
}

func TestAddJobRejectsMalformedSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test-job"}

	err := s.AddJob("not a cron expression", job)
	assert.Error(t, err)
}

func TestAddJobAcceptsWellFormedSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test-job"}

	err := s.AddJob("@every 1h", job)
	assert.NoError(t, err)
}
