package faces

import (
	"context"
	"image"

	"faceserver/storage"
)

const UnknownLabel = "Unknown"

type JobState string

const (
	JobInProgress JobState = "IN_PROGRESS"
	JobSucceeded  JobState = "SUCCEEDED"
	JobFailed     JobState = "FAILED"
)

// BoundingBox holds fractions of the image width and height, each in [0,1]
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Pixels converts the box to pixel coordinates of a w x h image. Values are truncated
func (b BoundingBox) Pixels(w, h int) image.Rectangle {
	left := int(b.Left * float64(w))
	top := int(b.Top * float64(h))
	width := int(b.Width * float64(w))
	height := int(b.Height * float64(h))
	return image.Rect(left, top, left+width, top+height)
}

type FaceMatch struct {
	Box        BoundingBox `json:"boundingBox"`
	Label      string      `json:"label"`
	FaceID     string      `json:"faceId"`
	Similarity float64     `json:"similarity"`
}

// PersonTrack is one person appearance reported by a face search job
type PersonTrack struct {
	Timestamp   int64       `json:"timestamp"` // milliseconds since the start of the video
	PersonIndex int64       `json:"personIndex"`
	Matches     []FaceMatch `json:"matches"`
}

type JobStatus struct {
	State     JobState      `json:"state"`
	Reason    string        `json:"reason,omitempty"`
	Persons   []PersonTrack `json:"persons,omitempty"`
	FrameRate float64       `json:"frameRate,omitempty"`
}

type IndexedFace struct {
	FaceID          string      `json:"faceId"`
	ExternalImageID string      `json:"externalImageId"`
	ImageID         string      `json:"imageId,omitempty"`
	Confidence      float64     `json:"confidence"`
	Box             BoundingBox `json:"boundingBox"`
}

type Recognition struct {
	Box        BoundingBox `json:"boundingBox"`
	Label      string      `json:"label"`
	FaceID     string      `json:"faceId,omitempty"`
	Similarity float64     `json:"similarity"`
	Matched    bool        `json:"matched"`
}

type Collection struct {
	ID               string `json:"collectionId"`
	ARN              string `json:"collectionArn,omitempty"`
	FaceModelVersion string `json:"faceModelVersion,omitempty"`
	StatusCode       int64  `json:"statusCode,omitempty"`
}

// JobClient is the asynchronous part of the recognition service
type JobClient interface {
	StartFaceSearch(ctx context.Context, media storage.MediaRef, collectionID string) (string, error)
	GetFaceSearch(ctx context.Context, jobID string) (*JobStatus, error)
}

type Service interface {
	JobClient
	CreateCollection(ctx context.Context, collectionID string) (*Collection, error)
	DeleteCollection(ctx context.Context, collectionID string) error
	ListCollections(ctx context.Context) ([]string, error)
	ListFaces(ctx context.Context, collectionID string) ([]IndexedFace, error)
	DeleteFace(ctx context.Context, collectionID, faceID string) error
	IndexFace(ctx context.Context, collectionID, personName string, img []byte) ([]IndexedFace, error)
	Recognize(ctx context.Context, collectionID string, img image.Image) ([]Recognition, error)
}
