// Package video decodes camera streams and recorded footage with ffmpeg.
package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoFrame is returned when no frame arrived before the read deadline.
	ErrNoFrame = errors.New("no frame received")
	// ErrStreamClosed is returned once the decoder has exited.
	ErrStreamClosed = errors.New("stream closed")
)

var (
	FFmpegBin  = "ffmpeg"
	FFprobeBin = "ffprobe"
)

// maxFrameSize bounds one JPEG frame in the pipe.
const maxFrameSize = 16 << 20

type Frame struct {
	// Number counts frames since the stream was opened, starting at 0.
	Number    int64
	Timestamp time.Time
	JPEG      []byte
}

// Source yields decoded frames of one stream in order.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

type Options struct {
	// SampleFPS limits the decoded rate; 0 keeps the stream rate.
	SampleFPS float64
	// Quality is the mjpeg qscale, 2 (best) to 31.
	Quality int
}

// FFmpegSource runs one ffmpeg process that writes the stream as a sequence of
// JPEG images to its stdout.
type FFmpegSource struct {
	frames chan Frame
	done   chan struct{}
	now    func() time.Time

	stop      func() error
	closeOnce sync.Once
	err       error
}

// Open starts decoding url. The process lives until Close or until ctx ends.
func Open(ctx context.Context, url string, opts Options) (*FFmpegSource, error) {
	cmd := exec.CommandContext(ctx, FFmpegBin, ffmpegArgs(url, opts)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	stop := func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		err := cmd.Wait()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			log.Debug().Str("stderr", msg).Msg("ffmpeg exited")
		}
		return err
	}
	return newSource(stdout, stop, time.Now), nil
}

func ffmpegArgs(url string, opts Options) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if isRTSP(url) {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", url)
	if opts.SampleFPS > 0 {
		args = append(args, "-vf", "fps="+strconv.FormatFloat(opts.SampleFPS, 'f', -1, 64))
	}
	q := opts.Quality
	if q <= 0 {
		q = 5
	}
	return append(args, "-f", "image2pipe", "-c:v", "mjpeg", "-q:v", strconv.Itoa(q), "-")
}

func isRTSP(url string) bool {
	return strings.HasPrefix(url, "rtsp://") || strings.HasPrefix(url, "rtsps://")
}

// newSource reads JPEG frames from r until it fails or stop is called.
func newSource(r io.Reader, stop func() error, now func() time.Time) *FFmpegSource {
	s := &FFmpegSource{
		frames: make(chan Frame, 1),
		done:   make(chan struct{}),
		now:    now,
		stop:   stop,
	}
	go s.read(r)
	return s
}

func (s *FFmpegSource) read(r io.Reader) {
	defer close(s.frames)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256<<10), maxFrameSize)
	scanner.Split(SplitJPEG)

	var n int64
	for scanner.Scan() {
		f := Frame{
			Number:    n,
			Timestamp: s.now(),
			JPEG:      bytes.Clone(scanner.Bytes()),
		}
		n++
		select {
		case s.frames <- f:
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.err = err
	}
}

// Next blocks until the next frame, ctx end, or decoder exit.
func (s *FFmpegSource) Next(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			if s.err != nil {
				return Frame{}, fmt.Errorf("%w: %v", ErrStreamClosed, s.err)
			}
			return Frame{}, ErrStreamClosed
		}
		return f, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Frame{}, ErrNoFrame
		}
		return Frame{}, ctx.Err()
	}
}

func (s *FFmpegSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.stop != nil {
			err = s.stop()
		}
	})
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed on purpose.
		return nil
	}
	return err
}

var (
	soi = []byte{0xff, 0xd8}
	eoi = []byte{0xff, 0xd9}
)

// SplitJPEG is a bufio.SplitFunc that yields complete JPEG images from a
// concatenated stream. Bytes before a start-of-image marker are dropped.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, soi)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xff, it may begin the next marker.
		if n := len(data); n > 0 && data[n-1] == 0xff {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+len(soi):], eoi)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(soi) + end + len(eoi)
	return stop, data[start:stop], nil
}
