package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"faceserver/faces"
	"faceserver/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type State string

const (
	StateQueued    State = "queued"
	StateResolving State = "resolving"
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateIndexed   State = "indexed"
	StateRendering State = "rendering"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

const defaultProgressEvery = 25

type Request struct {
	Media        storage.MediaRef `json:"media"`
	CollectionID string           `json:"collectionId"`
}

type Result struct {
	Output          storage.MediaRef `json:"output"`
	URL             string           `json:"url"`
	JobID           string           `json:"jobId"`
	Frames          int64            `json:"frames"`
	AnnotatedFrames int64            `json:"annotatedFrames"`
	Tracks          int              `json:"tracks"`
}

// Event reports the progress of a pipeline run
type Event struct {
	State       State  `json:"state"`
	JobID       string `json:"jobId,omitempty"`
	Frame       int64  `json:"frame,omitempty"`
	TotalFrames int64  `json:"totalFrames,omitempty"`
	// Attempt is the number of status queries so far while polling
	Attempt int            `json:"attempt,omitempty"`
	Result  *Result        `json:"result,omitempty"`
	Error   *PipelineError `json:"-"`
	Time    time.Time      `json:"time"`
}

type Observer func(Event)

// Pipeline recognizes faces in a stored video and produces an annotated copy of it
type Pipeline struct {
	Sources storage.Fetcher
	Results storage.Storer
	Jobs    faces.JobClient
	Codec   Codec
	Poll    PollConfig
	TempDir string
	// ProgressEvery is the number of frames between two rendering events
	ProgressEvery int64
}

type run struct {
	*Pipeline
	req     Request
	observe Observer
	state   State
	jobID   string
	log     *logrus.Entry
}

// Process runs a request to completion. Every failure is returned as *PipelineError.
// Temporary files are removed and nothing is stored unless the whole video was rendered
func (p *Pipeline) Process(ctx context.Context, req Request, observe Observer) (*Result, error) {
	if observe == nil {
		observe = func(Event) {}
	}
	r := &run{
		Pipeline: p,
		req:      req,
		observe:  observe,
		log:      logrus.WithFields(logrus.Fields{"media": req.Media.String(), "collection": req.CollectionID}),
	}
	result, err := r.process(ctx)
	if err != nil {
		r.log.WithError(err).Error("Video processing failed")
		r.observe(Event{State: StateFailed, JobID: r.jobID, Error: err, Time: time.Now()})
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"frames": result.Frames, "annotated": result.AnnotatedFrames}).Info("Video processing complete")
	r.enter(StateComplete, Event{Result: result})
	return result, nil
}

func (r *run) enter(state State, e Event) {
	r.state = state
	e.State = state
	e.JobID = r.jobID
	e.Time = time.Now()
	r.log.WithField("state", state).Debug("Pipeline state")
	r.observe(e)
}

func (r *run) fail(ctx context.Context, kind ErrorKind, err error) *PipelineError {
	if ctx.Err() != nil {
		kind = KindCanceled
		if !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}
	reason := err.Error()
	var jobErr *JobFailedError
	if kind == KindJobFailed && errors.As(err, &jobErr) {
		reason = jobErr.Reason
	}
	return &PipelineError{Kind: kind, Stage: r.state, Reason: reason, Err: err}
}

func (r *run) tempPath(ext string) string {
	dir := r.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "faceserver-"+uuid.NewString()+ext)
}

func (r *run) process(ctx context.Context) (*Result, *PipelineError) {
	r.enter(StateResolving, Event{})
	if r.req.Media.Key == "" {
		return nil, r.fail(ctx, KindDownload, storage.ErrInvalidPath)
	}
	inputPath := r.tempPath(path.Ext(r.req.Media.Key))
	defer os.Remove(inputPath)
	if err := r.download(ctx, inputPath); err != nil {
		return nil, r.fail(ctx, KindDownload, err)
	}

	jobID, err := r.Jobs.StartFaceSearch(ctx, r.req.Media, r.req.CollectionID)
	if err != nil {
		return nil, r.fail(ctx, KindJobSubmission, err)
	}
	r.jobID = jobID
	r.log = r.log.WithField("job", jobID)
	r.enter(StateSubmitted, Event{})

	r.enter(StatePolling, Event{})
	poller := Poller{
		Client: r.Jobs,
		Config: r.Poll,
		OnAttempt: func(attempt int, status *faces.JobStatus) {
			r.enter(StatePolling, Event{Attempt: attempt})
		},
	}
	status, err := poller.PollUntilDone(ctx, jobID)
	if err != nil {
		var jobErr *JobFailedError
		if errors.As(err, &jobErr) {
			return nil, r.fail(ctx, KindJobFailed, err)
		}
		return nil, r.fail(ctx, KindPolling, err)
	}

	source, err := r.Codec.Open(ctx, inputPath)
	if err != nil {
		return nil, r.fail(ctx, KindDecode, err)
	}
	defer source.Close()
	info := source.Info()
	if !(info.FrameRate > 0) && status.FrameRate > 0 {
		// Some containers carry no rate, the face search reads it from the stream itself
		info.FrameRate = status.FrameRate
		info.FrameRateRational = ""
	}
	index, err := BuildFrameIndex(status.Persons, info.FrameRate)
	if err != nil {
		return nil, r.fail(ctx, KindDecode, err)
	}
	r.enter(StateIndexed, Event{TotalFrames: info.Frames})

	outputPath := r.tempPath(".mp4")
	defer os.Remove(outputPath)
	sink, err := r.Codec.Create(ctx, outputPath, info)
	if err != nil {
		return nil, r.fail(ctx, KindEncode, err)
	}
	finished := false
	defer func() {
		if !finished {
			sink.Abort()
		}
	}()

	r.enter(StateRendering, Event{TotalFrames: info.Frames})
	frames, annotated, perr := r.render(ctx, source, sink, index, info)
	if perr != nil {
		return nil, perr
	}
	if err = sink.Close(); err != nil {
		return nil, r.fail(ctx, KindEncode, err)
	}
	finished = true

	output, url, err := r.store(ctx, outputPath)
	if err != nil {
		return nil, r.fail(ctx, KindStore, err)
	}
	return &Result{
		Output:          output,
		URL:             url,
		JobID:           jobID,
		Frames:          frames,
		AnnotatedFrames: annotated,
		Tracks:          len(status.Persons),
	}, nil
}

func (r *run) download(ctx context.Context, dst string) error {
	file, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := r.Sources.Fetch(ctx, r.req.Media, file)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	r.log.WithField("bytes", n).Debug("Source downloaded")
	return nil
}

// render copies every decoded frame to the sink, annotating the indexed ones
func (r *run) render(ctx context.Context, source FrameSource, sink FrameSink, index *FrameIndex, info MediaInfo) (frames, annotated int64, perr *PipelineError) {
	every := r.ProgressEvery
	if every <= 0 {
		every = defaultProgressEvery
	}
	frame := image.NewRGBA(image.Rect(0, 0, info.Width, info.Height))
	for n := int64(0); ; n++ {
		if err := ctx.Err(); err != nil {
			return n, annotated, r.fail(ctx, KindCanceled, err)
		}
		err := source.Next(frame)
		if err == io.EOF {
			r.enter(StateRendering, Event{Frame: n, TotalFrames: info.Frames})
			return n, annotated, nil
		}
		if err != nil {
			return n, annotated, r.fail(ctx, KindDecode, fmt.Errorf("frame %d: %w", n, err))
		}
		if list, ok := index.Lookup(n); ok && len(list) > 0 {
			Annotate(frame, list)
			annotated++
		}
		if err = sink.Write(frame); err != nil {
			return n, annotated, r.fail(ctx, KindEncode, fmt.Errorf("frame %d: %w", n, err))
		}
		if (n+1)%every == 0 {
			r.enter(StateRendering, Event{Frame: n + 1, TotalFrames: info.Frames})
		}
	}
}

func (r *run) store(ctx context.Context, outputPath string) (storage.MediaRef, string, error) {
	file, err := os.Open(outputPath)
	if err != nil {
		return storage.MediaRef{}, "", err
	}
	defer file.Close()
	ref, err := r.Results.Store(ctx, file, storage.ProcessedName(r.req.Media.Key), "video/mp4")
	if err != nil {
		return storage.MediaRef{}, "", err
	}
	url, err := r.Results.URL(ref)
	if err != nil {
		return storage.MediaRef{}, "", err
	}
	return ref, url, nil
}
