package video

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"faceserver/faces"
	"faceserver/storage"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func testRetryable(err error) bool {
	return errors.Is(err, errTransient)
}

func fastPoll() PollConfig {
	return PollConfig{
		Interval:       time.Millisecond,
		Multiplier:     1,
		MaxAttempts:    20,
		MaxQueryErrors: 2,
		Retryable:      testRetryable,
	}
}

type jobResponse struct {
	status *faces.JobStatus
	err    error
}

func pending() jobResponse {
	return jobResponse{status: &faces.JobStatus{State: faces.JobInProgress}}
}

func succeeded(frameRate float64, persons ...faces.PersonTrack) jobResponse {
	return jobResponse{status: &faces.JobStatus{State: faces.JobSucceeded, FrameRate: frameRate, Persons: persons}}
}

func failed(reason string) jobResponse {
	return jobResponse{status: &faces.JobStatus{State: faces.JobFailed, Reason: reason}}
}

type fakeJobs struct {
	mu        sync.Mutex
	responses []jobResponse
	queries   int
	startErr  error
	started   []storage.MediaRef
}

func (f *fakeJobs) StartFaceSearch(ctx context.Context, media storage.MediaRef, collectionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, media)
	return "job-1", nil
}

// GetFaceSearch replays the responses, repeating the last one forever
func (f *fakeJobs) GetFaceSearch(ctx context.Context, jobID string) (*faces.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.responses[min(f.queries, len(f.responses)-1)]
	f.queries++
	return r.status, r.err
}

type fakeFiles struct {
	content  string
	fetchErr error
	storeErr error
	stored   map[string][]byte
}

func (f *fakeFiles) Fetch(ctx context.Context, ref storage.MediaRef, dst io.WriterAt) (int64, error) {
	if f.fetchErr != nil {
		return 0, f.fetchErr
	}
	n, err := dst.WriteAt([]byte(f.content), 0)
	return int64(n), err
}

func (f *fakeFiles) Store(ctx context.Context, reader io.Reader, name, mimeType string) (storage.MediaRef, error) {
	if f.storeErr != nil {
		return storage.MediaRef{}, f.storeErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return storage.MediaRef{}, err
	}
	if f.stored == nil {
		f.stored = map[string][]byte{}
	}
	f.stored[name] = data
	return storage.MediaRef{Bucket: "results", Key: name}, nil
}

func (f *fakeFiles) URL(ref storage.MediaRef) (string, error) {
	return "https://example.com/" + ref.Key, nil
}

// fakeCodec decodes solid black frames and records which written frames contain the box color
type fakeCodec struct {
	info      MediaInfo
	failAt    int64
	openErr   error
	sink      *fakeSink
	source    *fakeSource
	writeFail bool
	// created is the info the encoder was started with
	created MediaInfo
}

type fakeSource struct {
	info   MediaInfo
	next   int64
	failAt int64
	closed bool
}

func (s *fakeSource) Info() MediaInfo { return s.info }

func (s *fakeSource) Next(dst *image.RGBA) error {
	if s.failAt > 0 && s.next == s.failAt {
		return errors.New("corrupt frame")
	}
	if s.next >= s.info.Frames {
		return io.EOF
	}
	for i := range dst.Pix {
		dst.Pix[i] = 0
	}
	s.next++
	return nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeSink struct {
	path      string
	file      *os.File
	written   int64
	marked    []int64
	writeFail bool
	closed    bool
	aborted   bool
}

func (s *fakeSink) Write(frame *image.RGBA) error {
	if s.writeFail {
		return errors.New("disk full")
	}
	for i := 0; i < len(frame.Pix); i += 4 {
		if frame.Pix[i] == BoxColor.R && frame.Pix[i+1] == BoxColor.G && frame.Pix[i+2] == BoxColor.B {
			s.marked = append(s.marked, s.written)
			break
		}
	}
	s.written++
	_, err := s.file.Write([]byte{1})
	return err
}

func (s *fakeSink) Close() error {
	s.closed = true
	return s.file.Close()
}

func (s *fakeSink) Abort() error {
	s.aborted = true
	s.file.Close()
	return os.Remove(s.path)
}

func (c *fakeCodec) Open(ctx context.Context, path string) (FrameSource, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	c.source = &fakeSource{info: c.info, failAt: c.failAt}
	return c.source, nil
}

func (c *fakeCodec) Create(ctx context.Context, path string, info MediaInfo) (FrameSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c.created = info
	c.sink = &fakeSink{path: path, file: file, writeFail: c.writeFail}
	return c.sink, nil
}
