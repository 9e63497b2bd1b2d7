package handlers

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"faceserver/db"
	"faceserver/faces"
	"faceserver/models"
	"faceserver/processing"
	"faceserver/push"
	"faceserver/storage"
	"faceserver/video"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/rekognition"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
)

type fakeFaces struct {
	mu           sync.Mutex
	collections  map[string][]faces.IndexedFace
	recognitions []faces.Recognition
	indexed      [][]byte
	jobState     faces.JobState
	jobReason    string
}

func newFakeFaces() *fakeFaces {
	return &fakeFaces{collections: map[string][]faces.IndexedFace{}, jobState: faces.JobSucceeded}
}

func notFound() error {
	return awserr.New(rekognition.ErrCodeResourceNotFoundException, "collection not found", nil)
}

func (f *fakeFaces) StartFaceSearch(ctx context.Context, media storage.MediaRef, collectionID string) (string, error) {
	return "handle-" + media.Key, nil
}

func (f *fakeFaces) GetFaceSearch(ctx context.Context, jobID string) (*faces.JobStatus, error) {
	return &faces.JobStatus{State: f.jobState, Reason: f.jobReason}, nil
}

func (f *fakeFaces) CreateCollection(ctx context.Context, collectionID string) (*faces.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[collectionID]; ok {
		return nil, awserr.New(rekognition.ErrCodeResourceAlreadyExistsException, "collection exists", nil)
	}
	f.collections[collectionID] = nil
	return &faces.Collection{ID: collectionID, StatusCode: 200}, nil
}

func (f *fakeFaces) DeleteCollection(ctx context.Context, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[collectionID]; !ok {
		return notFound()
	}
	delete(f.collections, collectionID)
	return nil
}

func (f *fakeFaces) ListCollections(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := []string{}
	for id := range f.collections {
		result = append(result, id)
	}
	return result, nil
}

func (f *fakeFaces) ListFaces(ctx context.Context, collectionID string) ([]faces.IndexedFace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, ok := f.collections[collectionID]
	if !ok {
		return nil, notFound()
	}
	return list, nil
}

func (f *fakeFaces) DeleteFace(ctx context.Context, collectionID, faceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, ok := f.collections[collectionID]
	if !ok {
		return notFound()
	}
	kept := []faces.IndexedFace{}
	for _, face := range list {
		if face.FaceID != faceID {
			kept = append(kept, face)
		}
	}
	f.collections[collectionID] = kept
	return nil
}

func (f *fakeFaces) IndexFace(ctx context.Context, collectionID, personName string, img []byte) ([]faces.IndexedFace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[collectionID]; !ok {
		return nil, notFound()
	}
	f.indexed = append(f.indexed, img)
	face := faces.IndexedFace{FaceID: "face-" + personName, ExternalImageID: faces.ExternalImageID(personName)}
	f.collections[collectionID] = append(f.collections[collectionID], face)
	return []faces.IndexedFace{face}, nil
}

func (f *fakeFaces) Recognize(ctx context.Context, collectionID string, img image.Image) ([]faces.Recognition, error) {
	if _, ok := f.collections[collectionID]; !ok {
		return nil, notFound()
	}
	return f.recognitions, nil
}

type fakeResults struct{}

func (fakeResults) Fetch(ctx context.Context, ref storage.MediaRef, dst io.WriterAt) (int64, error) {
	n, err := dst.WriteAt([]byte("video"), 0)
	return int64(n), err
}

func (fakeResults) Store(ctx context.Context, reader io.Reader, name, mimeType string) (storage.MediaRef, error) {
	_, err := io.Copy(io.Discard, reader)
	return storage.MediaRef{Key: name}, err
}

func (fakeResults) URL(ref storage.MediaRef) (string, error) {
	return "/static/vid_results/" + ref.Key, nil
}

func (fakeResults) Delete(ctx context.Context, ref storage.MediaRef) error {
	return nil
}

type fakeCodec struct{}

type blankSource struct{ left int }

func (s *blankSource) Info() video.MediaInfo {
	return video.MediaInfo{Width: 4, Height: 4, FrameRate: 10, Frames: 3}
}

func (s *blankSource) Next(dst *image.RGBA) error {
	if s.left == 0 {
		return io.EOF
	}
	s.left--
	return nil
}

func (s *blankSource) Close() error { return nil }

type fileSink struct{ file *os.File }

func (s *fileSink) Write(frame *image.RGBA) error {
	_, err := s.file.Write([]byte{0})
	return err
}

func (s *fileSink) Close() error { return s.file.Close() }

func (s *fileSink) Abort() error {
	s.file.Close()
	return os.Remove(s.file.Name())
}

func (fakeCodec) Open(ctx context.Context, path string) (video.FrameSource, error) {
	return &blankSource{left: 3}, nil
}

func (fakeCodec) Create(ctx context.Context, path string, info video.MediaInfo) (video.FrameSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fileSink{file: f}, nil
}

type testEnv struct {
	faces   *fakeFaces
	hub     *push.Hub
	uploads string
	results string
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	instance, err := db.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatal(err)
	}
	db.Instance = instance
	models.Init()

	env := &testEnv{
		faces:   newFakeFaces(),
		hub:     push.NewHub(),
		uploads: t.TempDir(),
		results: t.TempDir(),
	}
	pipeline := &video.Pipeline{
		Sources: fakeResults{},
		Results: fakeResults{},
		Jobs:    env.faces,
		Codec:   fakeCodec{},
		Poll:    video.PollConfig{Interval: time.Millisecond, MaxAttempts: 5},
		TempDir: t.TempDir(),
	}
	Init(Dependencies{
		Faces:             env.faces,
		Runner:            processing.NewRunner(pipeline, env.hub, 1),
		Hub:               env.hub,
		Uploads:           storage.NewDiskStorage(env.uploads, "/static/uploads"),
		Results:           storage.NewDiskStorage(env.results, "/static/results"),
		MaxImageDimension: 1920,
	})
	return env
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.GET("/", Index)
	r.GET("/api/collections", CollectionList)
	r.POST("/api/collections", CollectionCreate)
	r.DELETE("/api/collections", CollectionDelete)
	r.GET("/api/collections/:name/faces", FaceList)
	r.DELETE("/api/collections/:name/faces/:faceId", FaceDelete)
	r.POST("/api/register_faces", RegisterFaces)
	r.POST("/api/recognize_faces", RecognizeFaces)
	r.POST("/api/recognize_from_webcam", RecognizeFromWebcam)
	r.POST("/api/process_video", ProcessVideo)
	r.POST("/api/video_jobs", VideoJobCreate)
	r.GET("/api/video_jobs", VideoJobList)
	r.GET("/api/video_jobs/:id", VideoJobGet)
	r.DELETE("/api/video_jobs/:id", VideoJobDelete)
	r.GET("/api/video_events/:id", VideoEvents)
	return r
}
