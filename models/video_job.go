package models

import (
	"errors"
	"time"

	"faceserver/db"
	"faceserver/storage"
	"faceserver/video"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VideoJob is a video processing request and the progress of its pipeline run
type VideoJob struct {
	ID              string `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt       int64  `gorm:"index:state_created,priority:2" json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
	SourceBucket    string `gorm:"type:varchar(255)" json:"bucketName"`
	SourceKey       string `gorm:"type:varchar(1024)" json:"videoName"`
	CollectionID    string `gorm:"type:varchar(255)" json:"collectionId"`
	State           string `gorm:"type:varchar(20);index:state_created,priority:1;not null" json:"state"`
	JobHandle       string `gorm:"type:varchar(255)" json:"jobHandle,omitempty"`
	WorkerID        string `gorm:"type:varchar(64)" json:"-"`
	PollAttempts    int    `json:"pollAttempts,omitempty"`
	OutputBucket    string `gorm:"type:varchar(255)" json:"outputBucket,omitempty"`
	OutputKey       string `gorm:"type:varchar(1024)" json:"outputKey,omitempty"`
	OutputURL       string `gorm:"type:varchar(2000)" json:"videoUrl,omitempty"`
	Frames          int64  `json:"frames"`
	TotalFrames     int64  `json:"totalFrames"`
	AnnotatedFrames int64  `json:"annotatedFrames"`
	ErrorKind       string `gorm:"type:varchar(50)" json:"errorKind,omitempty"`
	ErrorStage      string `gorm:"type:varchar(20)" json:"errorStage,omitempty"`
	ErrorMessage    string `gorm:"type:varchar(2000)" json:"error,omitempty"`
	StartedAt       int64  `json:"startedAt,omitempty"`
	FinishedAt      int64  `json:"finishedAt,omitempty"`
}

var ErrNoQueuedJob = errors.New("no queued video job")

func NewVideoJob(source storage.MediaRef, collectionID string) VideoJob {
	return VideoJob{
		ID:           uuid.NewString(),
		SourceBucket: source.Bucket,
		SourceKey:    source.Key,
		CollectionID: collectionID,
		State:        string(video.StateQueued),
	}
}

func (j *VideoJob) Request() video.Request {
	return video.Request{
		Media:        storage.MediaRef{Bucket: j.SourceBucket, Key: j.SourceKey},
		CollectionID: j.CollectionID,
	}
}

func (j *VideoJob) Terminal() bool {
	return video.State(j.State).Terminal()
}

// Apply copies the progress reported by the pipeline into the job
func (j *VideoJob) Apply(e video.Event) {
	j.State = string(e.State)
	if e.JobID != "" {
		j.JobHandle = e.JobID
	}
	if e.Attempt > 0 {
		j.PollAttempts = e.Attempt
	}
	if e.TotalFrames > 0 {
		j.TotalFrames = e.TotalFrames
	}
	if e.Frame > 0 {
		j.Frames = e.Frame
	}
	if e.Result != nil {
		j.OutputBucket = e.Result.Output.Bucket
		j.OutputKey = e.Result.Output.Key
		j.OutputURL = e.Result.URL
		j.Frames = e.Result.Frames
		j.AnnotatedFrames = e.Result.AnnotatedFrames
	}
	if e.Error != nil {
		j.ErrorKind = string(e.Error.Kind)
		j.ErrorStage = string(e.Error.Stage)
		j.ErrorMessage = e.Error.Reason
	}
	if e.State.Terminal() {
		j.FinishedAt = e.Time.Unix()
	}
}

func (j *VideoJob) Create() error {
	return db.Instance.Create(j).Error
}

func (j *VideoJob) Save() error {
	return db.Instance.Save(j).Error
}

func GetVideoJob(id string) (job VideoJob, err error) {
	err = db.Instance.Where("id = ?", id).First(&job).Error
	return
}

func DeleteVideoJob(id string) error {
	return db.Instance.Where("id = ?", id).Delete(&VideoJob{}).Error
}

// ListVideoJobs returns the most recent jobs first
func ListVideoJobs(limit int) (result []VideoJob, err error) {
	err = db.Instance.Order("created_at DESC").Limit(limit).Find(&result).Error
	return
}

// ClaimNextVideoJob moves the oldest queued job to the resolving state on behalf of a worker.
// The conditional update makes sure only one worker gets each job
func ClaimNextVideoJob(workerID string) (*VideoJob, error) {
	for {
		job := VideoJob{}
		err := db.Instance.Where("state = ?", string(video.StateQueued)).Order("created_at, id").First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoQueuedJob
		}
		if err != nil {
			return nil, err
		}
		now := time.Now().Unix()
		result := db.Instance.Model(&VideoJob{}).
			Where("id = ? AND state = ?", job.ID, string(video.StateQueued)).
			Updates(map[string]any{"state": string(video.StateResolving), "worker_id": workerID, "started_at": now, "updated_at": now})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			job.State = string(video.StateResolving)
			job.WorkerID = workerID
			job.StartedAt = now
			return &job, nil
		}
		// Another worker was faster, try the next one
	}
}

// RequeueInterruptedVideoJobs puts jobs that were running when the process stopped back in the queue
func RequeueInterruptedVideoJobs() (int64, error) {
	result := db.Instance.Model(&VideoJob{}).
		Where("state NOT IN ?", []string{string(video.StateQueued), string(video.StateComplete), string(video.StateFailed)}).
		Updates(map[string]any{"state": string(video.StateQueued), "worker_id": "", "job_handle": "", "frames": 0, "poll_attempts": 0})
	return result.RowsAffected, result.Error
}
