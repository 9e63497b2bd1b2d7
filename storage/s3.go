package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"
)

// S3Storage fetches objects from any bucket and stores results in Bucket
type S3Storage struct {
	Bucket     string
	PresignTTL time.Duration
	s3Client   s3iface.S3API
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

func NewS3Storage(client s3iface.S3API, bucket string, presignTTL time.Duration) *S3Storage {
	return &S3Storage{
		Bucket:     bucket,
		PresignTTL: presignTTL,
		s3Client:   client,
		uploader:   s3manager.NewUploaderWithClient(client),
		downloader: s3manager.NewDownloaderWithClient(client),
	}
}

func (s *S3Storage) Fetch(ctx context.Context, ref MediaRef, dst io.WriterAt) (int64, error) {
	if ref.Bucket == "" {
		return 0, fmt.Errorf("missing bucket for %q", ref.Key)
	}
	logrus.WithField("object", ref.String()).Debug("Downloading object")
	n, err := s.downloader.DownloadWithContext(ctx, dst, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", ref, err)
	}
	return n, nil
}

func (s *S3Storage) Store(ctx context.Context, reader io.Reader, name, mimeType string) (MediaRef, error) {
	if s.Bucket == "" {
		return MediaRef{}, fmt.Errorf("no results bucket configured")
	}
	input := s3manager.UploadInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(name),
		Body:   reader,
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, &input); err != nil {
		return MediaRef{}, fmt.Errorf("uploading s3://%s/%s: %w", s.Bucket, name, err)
	}
	return MediaRef{Bucket: s.Bucket, Key: name}, nil
}

// URL presigns a GET request for the object
func (s *S3Storage) URL(ref MediaRef) (string, error) {
	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	return req.Presign(s.PresignTTL)
}

// Delete removes a stored result object
func (s *S3Storage) Delete(ctx context.Context, ref MediaRef) error {
	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	return err
}
