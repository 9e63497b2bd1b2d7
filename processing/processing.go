package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"faceserver/models"
	"faceserver/push"
	"faceserver/storage"
	"faceserver/video"

	"github.com/sirupsen/logrus"
)

const (
	defaultIdleWait = 30 * time.Second
	// syncWorkerID marks jobs run by RunNow on behalf of a waiting caller
	syncWorkerID = "sync"
)

// Runner executes queued video jobs with a fixed number of workers
type Runner struct {
	Pipeline *video.Pipeline
	Events   push.Emitter
	Workers  int
	// IdleWait is how long a worker sleeps when there is nothing to process, unless woken up earlier
	IdleWait time.Duration
	wake     chan struct{}
	once     sync.Once
}

func NewRunner(pipeline *video.Pipeline, events push.Emitter, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		Pipeline: pipeline,
		Events:   events,
		Workers:  workers,
		IdleWait: defaultIdleWait,
	}
}

func (r *Runner) wakeChan() chan struct{} {
	r.once.Do(func() {
		r.wake = make(chan struct{}, r.Workers)
	})
	return r.wake
}

// Wake tells an idle worker to look for queued jobs now
func (r *Runner) Wake() {
	select {
	case r.wakeChan() <- struct{}{}:
	default:
	}
}

func (r *Runner) publish(job *models.VideoJob) {
	if r.Events != nil {
		r.Events.Emit(push.NewJobEvent(job))
	}
}

// Enqueue stores a new job for the workers to pick up
func (r *Runner) Enqueue(source storage.MediaRef, collectionID string) (*models.VideoJob, error) {
	job := models.NewVideoJob(source, collectionID)
	if err := job.Create(); err != nil {
		return nil, fmt.Errorf("creating video job: %w", err)
	}
	logrus.WithFields(logrus.Fields{"job": job.ID, "media": source.String(), "collection": collectionID}).Info("Video job queued")
	r.publish(&job)
	r.Wake()
	return &job, nil
}

// RunNow records a job and processes it in the calling goroutine
func (r *Runner) RunNow(ctx context.Context, source storage.MediaRef, collectionID string) (*models.VideoJob, error) {
	job := models.NewVideoJob(source, collectionID)
	job.State = string(video.StateResolving)
	job.WorkerID = syncWorkerID
	job.StartedAt = time.Now().Unix()
	if err := job.Create(); err != nil {
		return nil, fmt.Errorf("creating video job: %w", err)
	}
	err := r.RunJob(ctx, &job)
	return &job, err
}

// RunJob runs a claimed job through the pipeline, saving and publishing each state change.
// A worker job interrupted by shutdown goes back to the queue, a RunNow job whose caller
// went away is recorded as canceled
func (r *Runner) RunJob(ctx context.Context, job *models.VideoJob) error {
	log := logrus.WithField("job", job.ID)
	log.Info("Video job started")
	requeue := job.WorkerID != syncWorkerID
	_, err := r.Pipeline.Process(ctx, job.Request(), func(e video.Event) {
		if requeue && e.State == video.StateFailed && ctx.Err() != nil {
			job.State = string(video.StateQueued)
			job.WorkerID = ""
			job.JobHandle = ""
			job.PollAttempts = 0
		} else {
			job.Apply(e)
		}
		if err := job.Save(); err != nil {
			log.WithError(err).Error("Saving video job failed")
		}
		r.publish(job)
	})
	var perr *video.PipelineError
	if errors.As(err, &perr) {
		log.WithFields(logrus.Fields{"kind": perr.Kind, "stage": perr.Stage}).Warn("Video job failed")
	}
	return err
}

var ErrJobActive = errors.New("video job is still queued or running")

// DeleteJob removes a finished job and its annotated video
func (r *Runner) DeleteJob(ctx context.Context, job *models.VideoJob) error {
	if !job.Terminal() {
		return ErrJobActive
	}
	if deleter, ok := r.Pipeline.Results.(storage.Deleter); ok && job.OutputKey != "" {
		output := storage.MediaRef{Bucket: job.OutputBucket, Key: job.OutputKey}
		if err := deleter.Delete(ctx, output); err != nil {
			return fmt.Errorf("deleting %s: %w", output, err)
		}
	}
	if err := models.DeleteVideoJob(job.ID); err != nil {
		return fmt.Errorf("deleting video job: %w", err)
	}
	logrus.WithField("job", job.ID).Info("Video job deleted")
	return nil
}

// OutputURL returns a fresh download link for the annotated video, presigned links expire
func (r *Runner) OutputURL(job *models.VideoJob) string {
	if job.OutputKey == "" {
		return job.OutputURL
	}
	u, err := r.Pipeline.Results.URL(storage.MediaRef{Bucket: job.OutputBucket, Key: job.OutputKey})
	if err != nil {
		logrus.WithError(err).WithField("job", job.ID).Warn("Signing output URL failed")
		return job.OutputURL
	}
	return u
}

// StartProcessing requeues interrupted jobs and runs the workers until ctx is done
func (r *Runner) StartProcessing(ctx context.Context) {
	if n, err := models.RequeueInterruptedVideoJobs(); err != nil {
		logrus.WithError(err).Error("Requeueing interrupted video jobs failed")
	} else if n > 0 {
		logrus.Infof("Requeued %d interrupted video jobs", n)
	}
	wg := sync.WaitGroup{}
	for i := 0; i < r.Workers; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			r.work(ctx, workerID)
		}(fmt.Sprintf("worker-%d", i+1))
	}
	wg.Wait()
}

func (r *Runner) work(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		job, err := models.ClaimNextVideoJob(workerID)
		if err == nil {
			r.RunJob(ctx, job)
			continue
		}
		if !errors.Is(err, models.ErrNoQueuedJob) {
			logrus.WithError(err).WithField("worker", workerID).Error("Claiming video job failed")
		}
		// Nothing to process...
		timer := time.NewTimer(r.IdleWait)
		select {
		case <-ctx.Done():
		case <-r.wakeChan():
		case <-timer.C:
		}
		timer.Stop()
	}
}
