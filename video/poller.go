package video

import (
	"context"
	"time"

	"faceserver/faces"

	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollAttempts = 720
	DefaultMaxQueryErrors  = 5
)

// PollConfig controls how often and how long a job is polled.
// Zero values are replaced by the defaults
type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	// Multiplier grows the interval after every attempt, 1 keeps it fixed
	Multiplier  float64
	MaxAttempts int
	// MaxQueryErrors is how many consecutive retryable query errors are tolerated
	MaxQueryErrors int
	Retryable      func(error) bool
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:       DefaultPollInterval,
		Multiplier:     1,
		MaxAttempts:    DefaultMaxPollAttempts,
		MaxQueryErrors: DefaultMaxQueryErrors,
		Retryable:      faces.IsRetryable,
	}
}

func (c PollConfig) withDefaults() PollConfig {
	d := DefaultPollConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxQueryErrors <= 0 {
		c.MaxQueryErrors = d.MaxQueryErrors
	}
	if c.Retryable == nil {
		c.Retryable = d.Retryable
	}
	return c
}

func (c PollConfig) next(interval time.Duration) time.Duration {
	interval = time.Duration(float64(interval) * c.Multiplier)
	if c.MaxInterval > 0 && interval > c.MaxInterval {
		return c.MaxInterval
	}
	return interval
}

// Poller queries a face search job until it reaches a terminal state
type Poller struct {
	Client faces.JobClient
	Config PollConfig
	// OnAttempt, when set, is called after every successful status query
	OnAttempt func(attempt int, status *faces.JobStatus)
}

// PollUntilDone returns the complete result of a succeeded job.
// A failed job yields *JobFailedError, query problems yield *PollError
// and cancellation returns the context error
func (p *Poller) PollUntilDone(ctx context.Context, jobID string) (*faces.JobStatus, error) {
	cfg := p.Config.withDefaults()
	log := logrus.WithField("job", jobID)
	interval := cfg.Interval
	queryErrors := 0
	for attempt := 1; ; attempt++ {
		status, err := p.Client.GetFaceSearch(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			queryErrors++
			if !cfg.Retryable(err) || queryErrors > cfg.MaxQueryErrors {
				return nil, &PollError{JobID: jobID, Attempts: attempt, Err: err}
			}
			log.WithError(err).Warnf("Status query failed (%d/%d)", queryErrors, cfg.MaxQueryErrors)
		} else {
			queryErrors = 0
			if p.OnAttempt != nil {
				p.OnAttempt(attempt, status)
			}
			switch status.State {
			case faces.JobSucceeded:
				log.WithField("attempts", attempt).Info("Face search succeeded")
				return status, nil
			case faces.JobFailed:
				return nil, &JobFailedError{JobID: jobID, Reason: status.Reason}
			}
		}
		if attempt >= cfg.MaxAttempts {
			return nil, &PollError{JobID: jobID, Attempts: attempt, Err: ErrPollAttemptsExceeded}
		}
		if err := wait(ctx, interval); err != nil {
			return nil, err
		}
		interval = cfg.next(interval)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
