package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var ErrInvalidPath = errors.New("invalid path")

// MediaRef identifies a stored object. An empty Bucket refers to local disk storage
type MediaRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (r MediaRef) String() string {
	if r.Bucket == "" {
		return r.Key
	}
	return "s3://" + r.Bucket + "/" + r.Key
}

// Fetcher downloads a stored object. dst is usually an *os.File
type Fetcher interface {
	Fetch(ctx context.Context, ref MediaRef, dst io.WriterAt) (int64, error)
}

// Storer persists content under a name and tells where it can be downloaded from
type Storer interface {
	Store(ctx context.Context, reader io.Reader, name, mimeType string) (MediaRef, error)
	URL(ref MediaRef) (string, error)
}

// Deleter removes stored objects
type Deleter interface {
	Delete(ctx context.Context, ref MediaRef) error
}

type FileStore interface {
	Fetcher
	Storer
}

// ProcessedName is the deterministic output name for a processed source object,
// so that re-running the same input overwrites the previous output
func ProcessedName(key string) string {
	return "processed_" + path.Base(key)
}

// cleanKey rejects keys that would escape the storage root
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))[1:]
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", ErrInvalidPath
		}
	}
	return cleaned, nil
}
