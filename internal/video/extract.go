package video

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ExtractFrames writes frames of videoPath sampled at fps into dir and returns
// the files in frame order.
func ExtractFrames(ctx context.Context, videoPath, dir string, fps float64) ([]string, error) {
	t := time.Now()
	framePattern := filepath.Join(dir, "frame_%06d.jpg")
	cmd := exec.CommandContext(ctx, FFmpegBin,
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", "fps="+strconv.FormatFloat(fps, 'f', -1, 64),
		"-q:v", "2",
		framePattern,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, stderr.String())
	}

	files, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("failed to list frame files: %w", err)
	}
	sort.Strings(files)

	log.Info().Str("video", videoPath).Int("frames", len(files)).Dur("took", time.Since(t)).
		Msg("Frames extracted")
	return files, nil
}

// ExtractClip copies duration seconds of videoPath starting at start into out
// without re-encoding.
func ExtractClip(ctx context.Context, videoPath, out string, start, duration float64) error {
	cmd := exec.CommandContext(ctx, FFmpegBin, clipArgs(videoPath, out, start, duration)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg clip %s: %w, stderr: %s", filepath.Base(out), err, stderr.String())
	}
	return nil
}

func clipArgs(videoPath, out string, start, duration float64) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(start, 'f', 3, 64),
		"-i", videoPath,
		"-t", strconv.FormatFloat(duration, 'f', 3, 64),
		"-c", "copy",
		out,
	}
}

// ProbeFPS reads the frame rate of the first video stream. def is returned
// when ffprobe fails or reports nothing usable.
func ProbeFPS(ctx context.Context, videoPath string, def float64) float64 {
	cmd := exec.CommandContext(ctx, FFprobeBin, probeArgs(videoPath)...)
	out, err := cmd.Output()
	if err != nil {
		log.Warn().Err(err).Str("video", videoPath).Float64("fps", def).Msg("ffprobe failed, using default fps")
		return def
	}
	fps, ok := ParseRate(string(out))
	if !ok {
		return def
	}
	return fps
}

func probeArgs(url string) []string {
	args := []string{"-v", "error"}
	if isRTSP(url) {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args,
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		url,
	)
}

// ParseRate parses ffprobe rates such as "30000/1001" or "25".
func ParseRate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	if !found {
		return n, true
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return n / d, true
}
