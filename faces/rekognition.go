package faces

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"regexp"

	"faceserver/storage"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/rekognition"
	"github.com/aws/aws-sdk-go/service/rekognition/rekognitioniface"
	"github.com/sirupsen/logrus"
)

const (
	searchPageSize = 1000
	// Crops around detected faces are grown by this fraction on each side before searching
	cropMargin = 0.1
)

var (
	ErrNoFaceDetected = errors.New("no face detected in image")

	invalidExternalIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-:]`)
)

// Rekognition implements Service on top of AWS Rekognition
type Rekognition struct {
	client         rekognitioniface.RekognitionAPI
	MatchThreshold float64
}

func NewRekognition(client rekognitioniface.RekognitionAPI, matchThreshold float64) *Rekognition {
	return &Rekognition{
		client:         client,
		MatchThreshold: matchThreshold,
	}
}

// ExternalImageID turns a person name into a valid Rekognition ExternalImageId
func ExternalImageID(personName string) string {
	return invalidExternalIDChars.ReplaceAllString(personName, "_")
}

func (r *Rekognition) CreateCollection(ctx context.Context, collectionID string) (*Collection, error) {
	out, err := r.client.CreateCollectionWithContext(ctx, &rekognition.CreateCollectionInput{
		CollectionId: aws.String(collectionID),
	})
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", collectionID, err)
	}
	logrus.WithField("collection", collectionID).Info("Collection created")
	return &Collection{
		ID:               collectionID,
		ARN:              aws.StringValue(out.CollectionArn),
		FaceModelVersion: aws.StringValue(out.FaceModelVersion),
		StatusCode:       aws.Int64Value(out.StatusCode),
	}, nil
}

func (r *Rekognition) DeleteCollection(ctx context.Context, collectionID string) error {
	_, err := r.client.DeleteCollectionWithContext(ctx, &rekognition.DeleteCollectionInput{
		CollectionId: aws.String(collectionID),
	})
	if err != nil {
		return fmt.Errorf("deleting collection %s: %w", collectionID, err)
	}
	logrus.WithField("collection", collectionID).Info("Collection deleted")
	return nil
}

func (r *Rekognition) ListCollections(ctx context.Context) ([]string, error) {
	result := []string{}
	err := r.client.ListCollectionsPagesWithContext(ctx, &rekognition.ListCollectionsInput{},
		func(page *rekognition.ListCollectionsOutput, lastPage bool) bool {
			result = append(result, aws.StringValueSlice(page.CollectionIds)...)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return result, nil
}

func (r *Rekognition) ListFaces(ctx context.Context, collectionID string) ([]IndexedFace, error) {
	result := []IndexedFace{}
	err := r.client.ListFacesPagesWithContext(ctx, &rekognition.ListFacesInput{
		CollectionId: aws.String(collectionID),
	}, func(page *rekognition.ListFacesOutput, lastPage bool) bool {
		for _, f := range page.Faces {
			result = append(result, toIndexedFace(f))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("listing faces of %s: %w", collectionID, err)
	}
	return result, nil
}

func (r *Rekognition) DeleteFace(ctx context.Context, collectionID, faceID string) error {
	out, err := r.client.DeleteFacesWithContext(ctx, &rekognition.DeleteFacesInput{
		CollectionId: aws.String(collectionID),
		FaceIds:      []*string{aws.String(faceID)},
	})
	if err != nil {
		return fmt.Errorf("deleting face %s: %w", faceID, err)
	}
	if len(out.DeletedFaces) == 0 {
		return fmt.Errorf("face %s not found in %s", faceID, collectionID)
	}
	return nil
}

// IndexFace registers the most prominent face of the image under the person's name
func (r *Rekognition) IndexFace(ctx context.Context, collectionID, personName string, img []byte) ([]IndexedFace, error) {
	out, err := r.client.IndexFacesWithContext(ctx, &rekognition.IndexFacesInput{
		CollectionId:        aws.String(collectionID),
		ExternalImageId:     aws.String(ExternalImageID(personName)),
		Image:               &rekognition.Image{Bytes: img},
		MaxFaces:            aws.Int64(1),
		QualityFilter:       aws.String(rekognition.QualityFilterAuto),
		DetectionAttributes: []*string{aws.String(rekognition.AttributeDefault)},
	})
	if err != nil {
		return nil, fmt.Errorf("indexing face into %s: %w", collectionID, err)
	}
	if len(out.FaceRecords) == 0 {
		return nil, ErrNoFaceDetected
	}
	result := make([]IndexedFace, 0, len(out.FaceRecords))
	for _, record := range out.FaceRecords {
		result = append(result, toIndexedFace(record.Face))
	}
	logrus.WithFields(logrus.Fields{"collection": collectionID, "person": personName, "faces": len(result)}).Info("Faces indexed")
	return result, nil
}

// Recognize detects every face in the image and searches each of them in the collection
func (r *Rekognition) Recognize(ctx context.Context, collectionID string, img image.Image) ([]Recognition, error) {
	data, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}
	detected, err := r.client.DetectFacesWithContext(ctx, &rekognition.DetectFacesInput{
		Image: &rekognition.Image{Bytes: data},
	})
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}
	result := make([]Recognition, 0, len(detected.FaceDetails))
	for _, detail := range detected.FaceDetails {
		rec := Recognition{Box: toBox(detail.BoundingBox), Label: UnknownLabel}
		crop := cropFace(img, rec.Box)
		if crop == nil {
			result = append(result, rec)
			continue
		}
		if data, err = encodeJPEG(crop); err != nil {
			return nil, err
		}
		out, err := r.client.SearchFacesByImageWithContext(ctx, &rekognition.SearchFacesByImageInput{
			CollectionId:       aws.String(collectionID),
			Image:              &rekognition.Image{Bytes: data},
			FaceMatchThreshold: aws.Float64(r.MatchThreshold),
			MaxFaces:           aws.Int64(1),
		})
		if err != nil {
			// Crops that are too small or blurry are reported as invalid parameters
			if IsInvalidParameter(err) {
				result = append(result, rec)
				continue
			}
			return nil, fmt.Errorf("searching face in %s: %w", collectionID, err)
		}
		if len(out.FaceMatches) > 0 && out.FaceMatches[0].Face != nil {
			match := out.FaceMatches[0]
			rec.Label = aws.StringValue(match.Face.ExternalImageId)
			rec.FaceID = aws.StringValue(match.Face.FaceId)
			rec.Similarity = aws.Float64Value(match.Similarity)
			rec.Matched = true
		}
		result = append(result, rec)
	}
	return result, nil
}

func (r *Rekognition) StartFaceSearch(ctx context.Context, media storage.MediaRef, collectionID string) (string, error) {
	out, err := r.client.StartFaceSearchWithContext(ctx, &rekognition.StartFaceSearchInput{
		CollectionId:       aws.String(collectionID),
		FaceMatchThreshold: aws.Float64(r.MatchThreshold),
		Video: &rekognition.Video{
			S3Object: &rekognition.S3Object{
				Bucket: aws.String(media.Bucket),
				Name:   aws.String(media.Key),
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.JobId), nil
}

// GetFaceSearch returns the job status. Once the job succeeded all result pages are collected
func (r *Rekognition) GetFaceSearch(ctx context.Context, jobID string) (*JobStatus, error) {
	input := &rekognition.GetFaceSearchInput{
		JobId:      aws.String(jobID),
		MaxResults: aws.Int64(searchPageSize),
		SortBy:     aws.String(rekognition.FaceSearchSortByTimestamp),
	}
	status := &JobStatus{}
	for {
		out, err := r.client.GetFaceSearchWithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		status.State = JobState(aws.StringValue(out.JobStatus))
		status.Reason = aws.StringValue(out.StatusMessage)
		if out.VideoMetadata != nil {
			status.FrameRate = aws.Float64Value(out.VideoMetadata.FrameRate)
		}
		if status.State != JobSucceeded {
			return status, nil
		}
		status.Persons = append(status.Persons, toPersonTracks(out.Persons)...)
		if aws.StringValue(out.NextToken) == "" {
			return status, nil
		}
		input.NextToken = out.NextToken
	}
}

// toPersonTracks prefers the box of the person's face in the video over the box of the
// matched face, which belongs to the image the face was registered from
func toPersonTracks(persons []*rekognition.PersonMatch) []PersonTrack {
	result := make([]PersonTrack, 0, len(persons))
	for _, p := range persons {
		if p == nil {
			continue
		}
		track := PersonTrack{Timestamp: aws.Int64Value(p.Timestamp)}
		var personBox *rekognition.BoundingBox
		if p.Person != nil {
			track.PersonIndex = aws.Int64Value(p.Person.Index)
			if p.Person.Face != nil {
				personBox = p.Person.Face.BoundingBox
			}
		}
		for _, fm := range p.FaceMatches {
			if fm == nil || fm.Face == nil {
				continue
			}
			box := fm.Face.BoundingBox
			if personBox != nil {
				box = personBox
			}
			track.Matches = append(track.Matches, FaceMatch{
				Box:        toBox(box),
				Label:      aws.StringValue(fm.Face.ExternalImageId),
				FaceID:     aws.StringValue(fm.Face.FaceId),
				Similarity: aws.Float64Value(fm.Similarity),
			})
		}
		result = append(result, track)
	}
	return result
}

func toBox(b *rekognition.BoundingBox) BoundingBox {
	if b == nil {
		return BoundingBox{}
	}
	return BoundingBox{
		Left:   aws.Float64Value(b.Left),
		Top:    aws.Float64Value(b.Top),
		Width:  aws.Float64Value(b.Width),
		Height: aws.Float64Value(b.Height),
	}
}

func toIndexedFace(f *rekognition.Face) IndexedFace {
	if f == nil {
		return IndexedFace{}
	}
	return IndexedFace{
		FaceID:          aws.StringValue(f.FaceId),
		ExternalImageID: aws.StringValue(f.ExternalImageId),
		ImageID:         aws.StringValue(f.ImageId),
		Confidence:      aws.Float64Value(f.Confidence),
		Box:             toBox(f.BoundingBox),
	}
}

func encodeJPEG(img image.Image) ([]byte, error) {
	buf := bytes.Buffer{}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// cropFace returns the face area with a margin, or nil when it falls outside the image
func cropFace(img image.Image, box BoundingBox) image.Image {
	bounds := img.Bounds()
	rect := box.Pixels(bounds.Dx(), bounds.Dy()).Add(bounds.Min)
	mx := int(float64(rect.Dx()) * cropMargin)
	my := int(float64(rect.Dy()) * cropMargin)
	rect = rect.Inset(-max(mx, my)).Intersect(bounds)
	if rect.Empty() {
		return nil
	}
	if sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}
