package push

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Webhook posts terminal job events as JSON to a URL
type Webhook struct {
	URL    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Emit(event JobEvent) error {
	if !event.Terminal() {
		return nil
	}
	resp, err := w.client.Post(w.URL, "application/json", bytes.NewReader(event.JSON()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook status: %d, %s", resp.StatusCode, string(body))
	}
	logrus.WithFields(logrus.Fields{"job": event.JobID, "state": event.State}).Debug("Webhook notified")
	return nil
}
