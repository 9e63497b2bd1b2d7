package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"faceserver/models"
	"faceserver/processing"
	"faceserver/storage"
	"faceserver/video"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500
)

type VideoRequest struct {
	BucketName   string `json:"bucketName"`
	VideoName    string `json:"videoName"`
	CollectionID string `json:"collectionId"`
}

type VideoErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Stage string `json:"stage"`
	JobID string `json:"id,omitempty"`
}

func bindVideoRequest(c *gin.Context) (*VideoRequest, bool) {
	r := VideoRequest{}
	if err := c.ShouldBindJSON(&r); err != nil || r.BucketName == "" || r.VideoName == "" || r.CollectionID == "" {
		c.JSON(http.StatusBadRequest, MissingParamsResponse)
		return nil, false
	}
	return &r, true
}

func (r *VideoRequest) media() storage.MediaRef {
	return storage.MediaRef{Bucket: r.BucketName, Key: r.VideoName}
}

// ProcessVideo runs the whole pipeline while the client waits and answers with the processed video URL
func ProcessVideo(c *gin.Context) {
	r, ok := bindVideoRequest(c)
	if !ok {
		return
	}
	job, err := deps.Runner.RunNow(c.Request.Context(), r.media(), r.CollectionID)
	if err != nil {
		response := VideoErrorResponse{Error: err.Error()}
		if job != nil {
			response.JobID = job.ID
		}
		var perr *video.PipelineError
		if errors.As(err, &perr) {
			response.Error = perr.Reason
			response.Kind = string(perr.Kind)
			response.Stage = string(perr.Stage)
		}
		c.JSON(http.StatusInternalServerError, response)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videoUrl": absoluteURL(c, job.OutputURL), "id": job.ID})
}

func VideoJobCreate(c *gin.Context) {
	r, ok := bindVideoRequest(c)
	if !ok {
		return
	}
	job, err := deps.Runner.Enqueue(r.media(), r.CollectionID)
	if err != nil {
		logrus.WithError(err).Error("Queueing video job failed")
		c.JSON(http.StatusInternalServerError, DBErrorResponse)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": job.ID})
}

func VideoJobList(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultJobListLimit)))
	if err != nil || limit < 1 {
		limit = defaultJobListLimit
	}
	limit = min(limit, maxJobListLimit)
	jobs, err := models.ListVideoJobs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, DBErrorResponse)
		return
	}
	for i := range jobs {
		jobs[i].OutputURL = absoluteURL(c, deps.Runner.OutputURL(&jobs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func VideoJobGet(c *gin.Context) {
	job, ok := loadVideoJob(c)
	if !ok {
		return
	}
	job.OutputURL = absoluteURL(c, deps.Runner.OutputURL(job))
	c.JSON(http.StatusOK, job)
}

// VideoJobDelete removes a finished job together with its annotated video
func VideoJobDelete(c *gin.Context) {
	job, ok := loadVideoJob(c)
	if !ok {
		return
	}
	err := deps.Runner.DeleteJob(c.Request.Context(), job)
	if errors.Is(err, processing.ErrJobActive) {
		c.JSON(http.StatusConflict, Response{err.Error()})
		return
	}
	if err != nil {
		logrus.WithError(err).WithField("job", job.ID).Error("Deleting video job failed")
		c.JSON(http.StatusInternalServerError, Response{err.Error()})
		return
	}
	c.JSON(http.StatusOK, OKResponse)
}

func loadVideoJob(c *gin.Context) (*models.VideoJob, bool) {
	job, err := models.GetVideoJob(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, NotFoundResponse)
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, DBErrorResponse)
		return nil, false
	}
	return &job, true
}
