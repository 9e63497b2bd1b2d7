package cmd

import (
	"io"
	"testing"

	"faceserver/push"

	"github.com/schollz/progressbar/v3"
)

func TestProgressEmitter(t *testing.T) {
	bar := progressbar.NewOptions64(-1, progressbar.OptionSetWriter(io.Discard))
	p := &progressEmitter{bar: bar}
	events := []push.JobEvent{
		{State: "resolving"},
		{State: "rendering", Frame: 25, TotalFrames: 100},
		{State: "rendering", Frame: 50, TotalFrames: 100},
	}
	for _, e := range events {
		if err := p.Emit(e); err != nil {
			t.Fatal(err)
		}
	}
	if p.state != "rendering" || bar.GetMax64() != 100 {
		t.Errorf("state = %s, max = %d", p.state, bar.GetMax64())
	}
}

func TestPollConfig(t *testing.T) {
	c := pollConfig()
	if c.Interval <= 0 || c.MaxAttempts <= 0 || c.Retryable == nil {
		t.Errorf("unexpected poll config %+v", c)
	}
}
