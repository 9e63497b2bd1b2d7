package push

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestHub(t *testing.T) {
	hub := NewHub()
	var mu sync.Mutex
	received := map[string]int{}
	subscriber := func(name string, ok bool) SendFunc {
		return func(data []byte) bool {
			mu.Lock()
			defer mu.Unlock()
			received[name]++
			return ok
		}
	}
	unsubscribeA := hub.Subscribe("job-1", subscriber("a", true))
	hub.Subscribe("job-1", subscriber("b", false))
	hub.Subscribe("job-2", subscriber("c", true))
	if hub.Count("job-1") != 2 {
		t.Fatalf("Count() = %d, want 2", hub.Count("job-1"))
	}

	hub.Emit(JobEvent{JobID: "job-1", State: "polling"})
	// b failed and is dropped
	if hub.Count("job-1") != 1 {
		t.Errorf("Count() = %d, want 1", hub.Count("job-1"))
	}
	hub.Emit(JobEvent{JobID: "job-1", State: "rendering"})
	unsubscribeA()
	hub.Emit(JobEvent{JobID: "job-1", State: "complete"})
	hub.Emit(JobEvent{JobID: "unknown", State: "complete"})

	want := map[string]int{"a": 2, "b": 1}
	for k, v := range want {
		if received[k] != v {
			t.Errorf("%s received %d events, want %d", k, received[k], v)
		}
	}
	if received["c"] != 0 || hub.Count("job-1") != 0 {
		t.Errorf("unexpected deliveries %v", received)
	}
}

func TestWebhook(t *testing.T) {
	var got []JobEvent
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		e := JobEvent{}
		if err := json.Unmarshal(body, &e); err != nil {
			t.Errorf("invalid body %s", body)
		}
		got = append(got, e)
		w.WriteHeader(status)
	}))
	defer server.Close()
	hook := NewWebhook(server.URL)

	if err := hook.Emit(JobEvent{JobID: "j", State: "rendering"}); err != nil {
		t.Fatal(err)
	}
	if err := hook.Emit(JobEvent{JobID: "j", State: "complete", VideoURL: "https://x/processed_v.mp4"}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].VideoURL != "https://x/processed_v.mp4" {
		t.Errorf("webhook received %+v", got)
	}
	status = http.StatusInternalServerError
	if err := hook.Emit(JobEvent{JobID: "j", State: "failed"}); err == nil {
		t.Error("expected error for status 500")
	}
}

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { c := make(chan struct{}); close(c); return c }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	topics []string
	err    error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	return &fakeToken{err: p.err}
}

func TestMQTT(t *testing.T) {
	pub := &fakePublisher{}
	m := &MQTT{client: pub, TopicPrefix: "faceserver"}
	if err := m.Emit(JobEvent{JobID: "abc", State: "polling"}); err != nil {
		t.Fatal(err)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "faceserver/video_jobs/abc" {
		t.Errorf("published to %v", pub.topics)
	}
	pub.err = errors.New("not connected")
	if err := m.Emit(JobEvent{JobID: "abc"}); err == nil {
		t.Error("expected publish error")
	}
}

type recorder struct {
	events []JobEvent
	err    error
}

func (r *recorder) Emit(e JobEvent) error {
	r.events = append(r.events, e)
	return r.err
}

func TestFanout(t *testing.T) {
	failing := &recorder{err: errors.New("down")}
	working := &recorder{}
	Fanout{failing, working}.Emit(JobEvent{JobID: "j", State: "failed"})
	if len(failing.events) != 1 || len(working.events) != 1 {
		t.Errorf("events not delivered to every emitter")
	}
}
