package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// fakeS3 keeps objects in memory and answers path style requests
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	requests []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	switch r.Method {
	case http.MethodGet:
		data, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Write(data)
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = data
		w.Header().Set("ETag", `"etag"`)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3(t *testing.T, bucket string) (*S3Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{"/videos/in.mp4": []byte("source video")}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(server.URL),
		Region:           aws.String("us-east-1"),
		Credentials:      credentials.NewStaticCredentials("key", "secret", ""),
		S3ForcePathStyle: aws.Bool(true),
		DisableSSL:       aws.Bool(true),
		MaxRetries:       aws.Int(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewS3Storage(s3.New(sess), bucket, 15*time.Minute), fake
}

func TestS3StorageFetch(t *testing.T) {
	s, _ := newTestS3(t, "results")
	tests := []struct {
		name    string
		ref     MediaRef
		want    string
		wantErr bool
	}{
		{"existing object", MediaRef{Bucket: "videos", Key: "in.mp4"}, "source video", false},
		{"missing object", MediaRef{Bucket: "videos", Key: "nope.mp4"}, "", true},
		{"no bucket", MediaRef{Key: "in.mp4"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := aws.NewWriteAtBuffer(nil)
			n, err := s.Fetch(context.Background(), tt.ref, buf)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fetch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if string(buf.Bytes()) != tt.want || n != int64(len(tt.want)) {
				t.Errorf("Fetch() = %d %q, want %q", n, buf.Bytes(), tt.want)
			}
		})
	}
}

func TestS3StorageStoreAndDelete(t *testing.T) {
	s, fake := newTestS3(t, "results")
	ctx := context.Background()
	ref, err := s.Store(ctx, strings.NewReader("annotated"), "processed_in.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if ref != (MediaRef{Bucket: "results", Key: "processed_in.mp4"}) {
		t.Errorf("Store() = %+v", ref)
	}
	fake.mu.Lock()
	stored := string(fake.objects["/results/processed_in.mp4"])
	fake.mu.Unlock()
	if stored != "annotated" {
		t.Errorf("uploaded %q", stored)
	}

	if err = s.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	fake.mu.Lock()
	_, exists := fake.objects["/results/processed_in.mp4"]
	fake.mu.Unlock()
	if exists {
		t.Error("object still exists after Delete()")
	}
}

func TestS3StorageStoreWithoutBucket(t *testing.T) {
	s, fake := newTestS3(t, "")
	if _, err := s.Store(context.Background(), strings.NewReader("x"), "a.mp4", ""); err == nil {
		t.Error("expected error without a results bucket")
	}
	if len(fake.requests) != 0 {
		t.Errorf("unexpected requests %v", fake.requests)
	}
}

func TestS3StorageURL(t *testing.T) {
	s, fake := newTestS3(t, "results")
	u, err := s.URL(MediaRef{Bucket: "results", Key: "processed_v.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	for _, part := range []string{"/results/processed_v.mp4", "X-Amz-Signature=", "X-Amz-Expires=900"} {
		if !strings.Contains(u, part) {
			t.Errorf("URL() = %q, missing %q", u, part)
		}
	}
	// Presigning happens locally
	if len(fake.requests) != 0 {
		t.Errorf("unexpected requests %v", fake.requests)
	}
}
