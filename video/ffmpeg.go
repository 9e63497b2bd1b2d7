package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// MediaInfo describes the video stream of a file
type MediaInfo struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frameRate"`
	// FrameRateRational is the rate as reported by ffprobe, e.g. "30000/1001"
	FrameRateRational string `json:"frameRateRational"`
	// Frames is 0 when the container does not tell
	Frames int64 `json:"frames"`
}

// FrameSource yields decoded frames in presentation order
type FrameSource interface {
	Info() MediaInfo
	// Next decodes the next frame into dst and returns io.EOF after the last one
	Next(dst *image.RGBA) error
	Close() error
}

// FrameSink encodes frames into an output file
type FrameSink interface {
	Write(frame *image.RGBA) error
	// Close finalizes the output file
	Close() error
	// Abort stops encoding and removes the partial output
	Abort() error
}

type Codec interface {
	Open(ctx context.Context, path string) (FrameSource, error)
	Create(ctx context.Context, path string, info MediaInfo) (FrameSink, error)
}

// FFmpeg decodes and encodes through ffmpeg and ffprobe subprocesses, exchanging raw RGBA frames over pipes
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	// VideoCodec defaults to libx264
	VideoCodec string
}

func (f *FFmpeg) ffmpeg() string {
	if f.FFmpegPath == "" {
		return "ffmpeg"
	}
	return f.FFmpegPath
}

func (f *FFmpeg) ffprobe() string {
	if f.FFprobePath == "" {
		return "ffprobe"
	}
	return f.FFprobePath
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

// Probe reads the dimensions, frame rate and frame count of the first video stream.
// FrameRate is 0 when the container does not carry one
func (f *FFmpeg) Probe(ctx context.Context, path string) (MediaInfo, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe(), "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames", "-of", "json", path)
	stderr := bytes.Buffer{}
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(output)
}

func parseProbe(data []byte) (MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return MediaInfo{}, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return MediaInfo{}, errors.New("no video stream found")
	}
	s := out.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return MediaInfo{}, fmt.Errorf("invalid dimensions %dx%d", s.Width, s.Height)
	}
	info := MediaInfo{Width: s.Width, Height: s.Height}
	// The average rate is what players use; r_frame_rate can be a timebase artefact for variable rate files
	for _, rate := range []string{s.AvgFrameRate, s.RFrameRate} {
		if fps, err := parseFrameRate(rate); err == nil {
			info.FrameRate = fps
			info.FrameRateRational = rate
			break
		}
	}
	if n, err := strconv.ParseInt(s.NbFrames, 10, 64); err == nil {
		info.Frames = n
	}
	return info, nil
}

// parseFrameRate accepts "30", "29.97" or "30000/1001"
func parseFrameRate(rate string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(rate), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	d := 1.0
	if found {
		if d, err = strconv.ParseFloat(den, 64); err != nil {
			return 0, err
		}
	}
	if d == 0 || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFrameRate, rate)
	}
	return n / d, nil
}

func decodeArgs(path string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-noautorotate",
		"-i", path,
		"-map", "0:v:0", "-an",
		// Keep exactly the frames of the source, no duplicates or drops
		"-vsync", "passthrough",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-",
	}
}

func (f *FFmpeg) encodeArgs(path string, info MediaInfo) []string {
	codec := f.VideoCodec
	if codec == "" {
		codec = "libx264"
	}
	rate := info.FrameRateRational
	if rate == "" {
		rate = strconv.FormatFloat(info.FrameRate, 'f', -1, 64)
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-r", rate,
		"-i", "-",
		"-c:v", codec, "-pix_fmt", "yuv420p",
	}
	if info.Width%2 != 0 || info.Height%2 != 0 {
		// yuv420p needs even dimensions
		args = append(args, "-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2")
	}
	return append(args, "-movflags", "+faststart", "-f", "mp4", path)
}

type ffmpegSource struct {
	info      MediaInfo
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    bytes.Buffer
	frameSize int
	closeOnce sync.Once
	done      bool
}

func (f *FFmpeg) Open(ctx context.Context, path string) (FrameSource, error) {
	info, err := f.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	s := &ffmpegSource{info: info, frameSize: info.Width * info.Height * 4}
	s.cmd = exec.CommandContext(ctx, f.ffmpeg(), decodeArgs(path)...)
	s.cmd.Stderr = &s.stderr
	if s.stdout, err = s.cmd.StdoutPipe(); err != nil {
		return nil, err
	}
	if err = s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting decoder: %w", err)
	}
	logrus.WithFields(logrus.Fields{"file": path, "width": info.Width, "height": info.Height, "fps": info.FrameRate}).Debug("Decoder started")
	return s, nil
}

func (s *ffmpegSource) Info() MediaInfo {
	return s.info
}

func (s *ffmpegSource) Next(dst *image.RGBA) error {
	if s.done {
		return io.EOF
	}
	if dst.Rect.Dx() != s.info.Width || dst.Rect.Dy() != s.info.Height {
		return fmt.Errorf("frame buffer is %dx%d, video is %dx%d", dst.Rect.Dx(), dst.Rect.Dy(), s.info.Width, s.info.Height)
	}
	var err error
	if dst.Stride == s.info.Width*4 {
		_, err = io.ReadFull(s.stdout, dst.Pix[:s.frameSize])
	} else {
		for y := 0; y < s.info.Height && err == nil; y++ {
			_, err = io.ReadFull(s.stdout, dst.Pix[y*dst.Stride:y*dst.Stride+s.info.Width*4])
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		s.done = true
		if waitErr := s.wait(); waitErr != nil {
			return waitErr
		}
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		if waitErr := s.wait(); waitErr != nil {
			return waitErr
		}
		return errors.New("truncated frame at end of stream")
	}
	return err
}

func (s *ffmpegSource) wait() (err error) {
	s.closeOnce.Do(func() {
		if err = s.cmd.Wait(); err != nil {
			err = fmt.Errorf("decoder: %w: %s", err, strings.TrimSpace(s.stderr.String()))
		}
	})
	return err
}

func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.stdout.Close()
		if s.cmd.ProcessState == nil {
			s.cmd.Process.Kill()
		}
		s.cmd.Wait()
	})
	return nil
}

type ffmpegSink struct {
	path      string
	width     int
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    bytes.Buffer
	closeOnce sync.Once
	closeErr  error
}

func (f *FFmpeg) Create(ctx context.Context, path string, info MediaInfo) (FrameSink, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", info.Width, info.Height)
	}
	if !(info.FrameRate > 0) {
		return nil, ErrInvalidFrameRate
	}
	s := &ffmpegSink{path: path, width: info.Width}
	s.cmd = exec.CommandContext(ctx, f.ffmpeg(), f.encodeArgs(path, info)...)
	s.cmd.Stderr = &s.stderr
	var err error
	if s.stdin, err = s.cmd.StdinPipe(); err != nil {
		return nil, err
	}
	if err = s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting encoder: %w", err)
	}
	return s, nil
}

func (s *ffmpegSink) Write(frame *image.RGBA) error {
	rowSize := s.width * 4
	if frame.Stride == rowSize {
		_, err := s.stdin.Write(frame.Pix[:rowSize*frame.Rect.Dy()])
		return s.writeErr(err)
	}
	for y := 0; y < frame.Rect.Dy(); y++ {
		if _, err := s.stdin.Write(frame.Pix[y*frame.Stride : y*frame.Stride+rowSize]); err != nil {
			return s.writeErr(err)
		}
	}
	return nil
}

// writeErr waits for the encoder after a failed write, stderr is complete only once it exited
func (s *ffmpegSink) writeErr(err error) error {
	if err == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.stdin.Close()
		s.cmd.Wait()
		s.closeErr = fmt.Errorf("encoder: %w: %s", err, strings.TrimSpace(s.stderr.String()))
	})
	if s.closeErr != nil {
		return s.closeErr
	}
	return fmt.Errorf("encoder: %w", err)
}

func (s *ffmpegSink) Close() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()
		if err := s.cmd.Wait(); err != nil {
			s.closeErr = fmt.Errorf("encoder: %w: %s", err, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.closeErr
}

func (s *ffmpegSink) Abort() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()
		s.cmd.Process.Kill()
		s.cmd.Wait()
		s.closeErr = errors.New("encoding aborted")
	})
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
