package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/nfnt/resize"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrInvalidDataURL = errors.New("invalid image data")

	allowedExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}
	unsafeFilename    = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// AllowedFile tells whether an uploaded file name has one of the accepted image extensions
func AllowedFile(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// SecureFilename turns a client provided name into something safe to store on disk.
// It returns "" when nothing usable is left
func SecureFilename(name string) string {
	name = norm.NFKD.String(name)
	ascii := strings.Builder{}
	for _, r := range name {
		if r < unicode.MaxASCII {
			ascii.WriteRune(r)
		}
	}
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(ascii.String())
	name = strings.Join(strings.Fields(name), "_")
	return strings.Trim(unsafeFilename.ReplaceAllString(name, ""), "._")
}

// DecodeDataURL decodes "data:image/...;base64,..." strings as sent by browsers.
// Plain base64 without the prefix is accepted too
func DecodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
			return nil, ErrInvalidDataURL
		}
		s = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(data) == 0 {
		return nil, ErrInvalidDataURL
	}
	return data, nil
}

// DecodeImage reads a png, jpeg or gif image
func DecodeImage(reader io.Reader) (image.Image, string, error) {
	return image.Decode(reader)
}

// FitImage downscales images larger than maxSize on either side, keeping the aspect ratio
func FitImage(img image.Image, maxSize uint) image.Image {
	size := img.Bounds().Size()
	if maxSize == 0 || (uint(size.X) <= maxSize && uint(size.Y) <= maxSize) {
		return img
	}
	return resize.Thumbnail(maxSize, maxSize, img, resize.Lanczos3)
}

// ToRGBA returns a drawable copy of img with its origin at 0,0
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	result := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(result, result.Bounds(), img, b.Min, draw.Src)
	return result
}

func EncodePNG(img image.Image) ([]byte, error) {
	buf := bytes.Buffer{}
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func EncodeJPEG(img image.Image) ([]byte, error) {
	buf := bytes.Buffer{}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
