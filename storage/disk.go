package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

type DiskStorage struct {
	// BasePath is a directory that is writable by the current process
	BasePath string
	// URLPrefix is where BasePath is served over HTTP, e.g. "/static/vid_results"
	URLPrefix string
	dirs      map[string]bool
	dirsMutex sync.Mutex
}

func NewDiskStorage(basePath, urlPrefix string) *DiskStorage {
	return &DiskStorage{
		BasePath:  basePath,
		URLPrefix: urlPrefix,
		dirs:      make(map[string]bool, 10),
	}
}

func (s *DiskStorage) createDir(dir string) error {
	s.dirsMutex.Lock()
	defer s.dirsMutex.Unlock()

	if ok := s.dirs[dir]; ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0777); err != nil {
		return err
	}
	s.dirs[dir] = true
	return nil
}

func (s *DiskStorage) GetFullPath(path string) (string, error) {
	key, err := cleanKey(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.BasePath, filepath.FromSlash(key)), nil
}

// Save writes the content to a temporary file first and renames it, so readers never see partial files
func (s *DiskStorage) Save(path string, reader io.Reader) (int64, error) {
	fileName, err := s.GetFullPath(path)
	if err != nil {
		return 0, err
	}
	if err := s.createDir(filepath.Dir(fileName)); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(fileName), "."+filepath.Base(fileName)+".part-*")
	if err != nil {
		return 0, err
	}
	result, err := io.Copy(tmp, reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), fileName)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	return result, nil
}

func (s *DiskStorage) Load(path string, writer io.Writer) (int64, error) {
	fileName, err := s.GetFullPath(path)
	if err != nil {
		return 0, err
	}
	file, err := os.Open(fileName)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return io.Copy(writer, file)
}

// Delete removes a stored file, a missing file is not an error
func (s *DiskStorage) Delete(ctx context.Context, ref MediaRef) error {
	if ref.Bucket != "" {
		return fmt.Errorf("disk storage cannot delete %s", ref)
	}
	fileName, err := s.GetFullPath(ref.Key)
	if err != nil {
		return err
	}
	if err = os.Remove(fileName); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *DiskStorage) Fetch(ctx context.Context, ref MediaRef, dst io.WriterAt) (int64, error) {
	if ref.Bucket != "" {
		return 0, fmt.Errorf("disk storage cannot fetch %s", ref)
	}
	return s.Load(ref.Key, io.NewOffsetWriter(dst, 0))
}

func (s *DiskStorage) Store(ctx context.Context, reader io.Reader, name, mimeType string) (MediaRef, error) {
	if _, err := s.Save(name, reader); err != nil {
		return MediaRef{}, err
	}
	return MediaRef{Key: name}, nil
}

// URL returns a path relative to the server root
func (s *DiskStorage) URL(ref MediaRef) (string, error) {
	key, err := cleanKey(ref.Key)
	if err != nil {
		return "", err
	}
	u := url.URL{Path: s.URLPrefix + "/" + key}
	return u.EscapedPath(), nil
}
