package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"faceserver/faces"
	"faceserver/models"
	"faceserver/push"

	"github.com/gorilla/websocket"
)

var videoBody = VideoRequest{BucketName: "bucket", VideoName: "clips/v.mp4", CollectionID: "people"}

func TestProcessVideo(t *testing.T) {
	setup(t)
	r := newRouter()

	w := do(r, http.MethodPost, "/api/process_video", VideoRequest{BucketName: "bucket"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing params status = %d", w.Code)
	}

	w = do(r, http.MethodPost, "/api/process_video", videoBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	got := decode[map[string]string](t, w)
	if got["videoUrl"] != "http://example.com/static/vid_results/processed_v.mp4" {
		t.Errorf("videoUrl = %q", got["videoUrl"])
	}
	job, err := models.GetVideoJob(got["id"])
	if err != nil || job.State != "complete" || job.Frames != 3 {
		t.Errorf("job = %+v, %v", job, err)
	}
}

func TestProcessVideoJobFailed(t *testing.T) {
	env := setup(t)
	env.faces.jobState = faces.JobFailed
	env.faces.jobReason = "Access denied"

	w := do(newRouter(), http.MethodPost, "/api/process_video", videoBody)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[VideoErrorResponse](t, w)
	if got.Error != "Access denied" || got.Kind != "job_failed" || got.Stage != "polling" || got.JobID == "" {
		t.Errorf("unexpected error response %+v", got)
	}
}

func TestVideoJobs(t *testing.T) {
	setup(t)
	r := newRouter()

	w := do(r, http.MethodPost, "/api/video_jobs", videoBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	id := decode[map[string]string](t, w)["id"]

	w = do(r, http.MethodGet, "/api/video_jobs/"+id, nil)
	job := decode[models.VideoJob](t, w)
	if w.Code != http.StatusOK || job.ID != id || job.State != "queued" || job.SourceKey != "clips/v.mp4" {
		t.Errorf("GET job = %d %+v", w.Code, job)
	}

	w = do(r, http.MethodGet, "/api/video_jobs?limit=abc", nil)
	list := decode[map[string][]models.VideoJob](t, w)["jobs"]
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("jobs = %+v", list)
	}

	w = do(r, http.MethodGet, "/api/video_jobs/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", w.Code)
	}
}

func TestVideoJobOutputURLIsSignedAgain(t *testing.T) {
	setup(t)
	r := newRouter()
	job := models.NewVideoJob(videoBody.media(), "people")
	job.State = "complete"
	job.OutputKey = "processed_v.mp4"
	job.OutputURL = "https://expired.example.com/processed_v.mp4?X-Amz-Expires=900"
	if err := job.Create(); err != nil {
		t.Fatal(err)
	}
	want := "http://example.com/static/vid_results/processed_v.mp4"

	w := do(r, http.MethodGet, "/api/video_jobs/"+job.ID, nil)
	if got := decode[models.VideoJob](t, w); got.OutputURL != want {
		t.Errorf("GET job videoUrl = %q, want %q", got.OutputURL, want)
	}
	w = do(r, http.MethodGet, "/api/video_jobs", nil)
	list := decode[map[string][]models.VideoJob](t, w)["jobs"]
	if len(list) != 1 || list[0].OutputURL != want {
		t.Errorf("jobs = %+v", list)
	}
}

func TestVideoJobDelete(t *testing.T) {
	setup(t)
	r := newRouter()
	queued := models.NewVideoJob(videoBody.media(), "people")
	done := models.NewVideoJob(videoBody.media(), "people")
	done.State = "complete"
	done.OutputKey = "processed_v.mp4"
	for _, j := range []*models.VideoJob{&queued, &done} {
		if err := j.Create(); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		id   string
		want int
	}{
		{"active job", queued.ID, http.StatusConflict},
		{"finished job", done.ID, http.StatusOK},
		{"already deleted", done.ID, http.StatusNotFound},
		{"missing job", "missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, http.MethodDelete, "/api/video_jobs/"+tt.id, nil); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
	if _, err := models.GetVideoJob(queued.ID); err != nil {
		t.Errorf("active job was deleted: %v", err)
	}
}

func TestVideoEvents(t *testing.T) {
	env := setup(t)
	job := models.NewVideoJob(videoBody.media(), "people")
	if err := job.Create(); err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(newRouter())
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/video_events/"

	if _, resp, err := websocket.DefaultDialer.Dial(url+"missing", nil); err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for a missing job, got %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+job.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	first := push.JobEvent{}
	if err = conn.ReadJSON(&first); err != nil || first.JobID != job.ID || first.State != "queued" {
		t.Fatalf("first event = %+v, %v", first, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for env.hub.Count(job.ID) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	job.State = "polling"
	env.hub.Emit(push.NewJobEvent(&job))
	next := push.JobEvent{}
	if err = conn.ReadJSON(&next); err != nil || next.State != "polling" {
		t.Fatalf("next event = %+v, %v", next, err)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("ping"))
	_, pong, err := conn.ReadMessage()
	if err != nil || string(pong) != "pong" {
		t.Errorf("ping answer = %q, %v", pong, err)
	}
}
