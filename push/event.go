package push

import (
	"encoding/json"
	"time"

	"faceserver/models"
	"faceserver/video"

	"github.com/sirupsen/logrus"
)

// JobEvent is what subscribers learn about a video job after each state change
type JobEvent struct {
	JobID           string `json:"id"`
	State           string `json:"state"`
	Media           string `json:"media"`
	CollectionID    string `json:"collectionId"`
	PollAttempts    int    `json:"pollAttempts,omitempty"`
	Frame           int64  `json:"frame,omitempty"`
	TotalFrames     int64  `json:"totalFrames,omitempty"`
	AnnotatedFrames int64  `json:"annotatedFrames,omitempty"`
	VideoURL        string `json:"videoUrl,omitempty"`
	ErrorKind       string `json:"errorKind,omitempty"`
	ErrorStage      string `json:"errorStage,omitempty"`
	Error           string `json:"error,omitempty"`
	Time            int64  `json:"time"`
}

func NewJobEvent(job *models.VideoJob) JobEvent {
	return JobEvent{
		JobID:           job.ID,
		State:           job.State,
		Media:           job.Request().Media.String(),
		CollectionID:    job.CollectionID,
		PollAttempts:    job.PollAttempts,
		Frame:           job.Frames,
		TotalFrames:     job.TotalFrames,
		AnnotatedFrames: job.AnnotatedFrames,
		VideoURL:        job.OutputURL,
		ErrorKind:       job.ErrorKind,
		ErrorStage:      job.ErrorStage,
		Error:           job.ErrorMessage,
		Time:            time.Now().UnixMilli(),
	}
}

func (e *JobEvent) Terminal() bool {
	return video.State(e.State).Terminal()
}

func (e *JobEvent) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

type Emitter interface {
	Emit(event JobEvent) error
}

// Fanout sends each event to all emitters. Failing emitters are logged and do not stop the others
type Fanout []Emitter

func (f Fanout) Emit(event JobEvent) error {
	for _, e := range f {
		if err := e.Emit(event); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"job": event.JobID, "state": event.State}).Warnf("Emitting event with %T failed", e)
		}
	}
	return nil
}
