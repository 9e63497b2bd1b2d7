package video

import (
	"fmt"
	"math"
	"sort"

	"faceserver/faces"
)

// Annotation is a box to draw on a frame together with its label
type Annotation struct {
	Box   faces.BoundingBox `json:"boundingBox"`
	Label string            `json:"label"`
}

// FrameNumber maps a timestamp in milliseconds to the frame shown at that time
func FrameNumber(timestampMs int64, frameRate float64) int64 {
	return int64(math.Floor(float64(timestampMs) * frameRate / 1000))
}

// FrameIndex maps frame numbers to annotations. It is read only once built
type FrameIndex struct {
	frames map[int64][]Annotation
}

// BuildFrameIndex groups the matches of all tracks by frame number. Tracks mapping to
// the same frame are merged in input order, tracks without matches still create an
// empty entry and tracks with negative timestamps are ignored
func BuildFrameIndex(persons []faces.PersonTrack, frameRate float64) (*FrameIndex, error) {
	if !(frameRate > 0) || math.IsInf(frameRate, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrameRate, frameRate)
	}
	frames := make(map[int64][]Annotation, len(persons))
	for _, p := range persons {
		if p.Timestamp < 0 {
			continue
		}
		n := FrameNumber(p.Timestamp, frameRate)
		list, ok := frames[n]
		if !ok {
			list = []Annotation{}
		}
		for _, m := range p.Matches {
			list = append(list, Annotation{Box: m.Box, Label: m.Label})
		}
		frames[n] = list
	}
	return &FrameIndex{frames: frames}, nil
}

// Lookup returns the annotations of a frame. The second value tells whether the frame
// was mentioned by any track, even without matches
func (idx *FrameIndex) Lookup(frame int64) ([]Annotation, bool) {
	list, ok := idx.frames[frame]
	return list[:len(list):len(list)], ok
}

func (idx *FrameIndex) Len() int {
	return len(idx.frames)
}

// Frames returns the indexed frame numbers in ascending order
func (idx *FrameIndex) Frames() []int64 {
	result := make([]int64, 0, len(idx.frames))
	for n := range idx.frames {
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
