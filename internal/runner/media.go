package runner

import (
	"context"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/video"
)

// Media is the video tooling a job needs.
type Media interface {
	ProbeFPS(ctx context.Context, videoPath string, def float64) float64
	ExtractFrames(ctx context.Context, videoPath, dir string, fps float64) ([]string, error)
	ExtractClip(ctx context.Context, videoPath, out string, start, duration float64) error
}

// FFmpeg implements Media with the ffmpeg and ffprobe binaries.
type FFmpeg struct{}

func (FFmpeg) ProbeFPS(ctx context.Context, videoPath string, def float64) float64 {
	return video.ProbeFPS(ctx, videoPath, def)
}

func (FFmpeg) ExtractFrames(ctx context.Context, videoPath, dir string, fps float64) ([]string, error) {
	return video.ExtractFrames(ctx, videoPath, dir, fps)
}

func (FFmpeg) ExtractClip(ctx context.Context, videoPath, out string, start, duration float64) error {
	return video.ExtractClip(ctx, videoPath, out, start, duration)
}
