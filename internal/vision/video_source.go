package vision

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// VideoSource replays a recorded game, one frame per call.
type VideoSource struct {
	video        *gocv.VideoCapture
	fps          float64
	frameCount   int
	currentFrame int
	// step frames are skipped between captures so a long recording can be
	// sampled at a lower rate.
	step int
	mu   sync.Mutex
}

// NewVideoSource opens a video file for playback
func NewVideoSource(videoPath string, step int) (*VideoSource, error) {
	video, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open video file: %w", err)
	}

	if !video.IsOpened() {
		video.Close()
		return nil, fmt.Errorf("video file not opened")
	}

	if step < 1 {
		step = 1
	}

	return &VideoSource{
		video:      video,
		fps:        video.Get(gocv.VideoCaptureFPS),
		frameCount: int(video.Get(gocv.VideoCaptureFrameCount)),
		step:       step,
	}, nil
}

// Capture returns the next sampled frame.
func (vs *VideoSource) Capture(ctx context.Context) (image.Image, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.video == nil {
		return nil, fmt.Errorf("video source closed")
	}

	mat := gocv.NewMat()
	defer mat.Close()
	for i := 0; i < vs.step; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !vs.video.Read(&mat) {
			return nil, fmt.Errorf("end of video at frame %d", vs.currentFrame)
		}
		vs.currentFrame++
	}

	if mat.Empty() {
		return nil, fmt.Errorf("empty frame %d", vs.currentFrame)
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

// Progress returns the fraction of frames consumed.
func (vs *VideoSource) Progress() float64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.frameCount == 0 {
		return 0
	}
	return float64(vs.currentFrame) / float64(vs.frameCount)
}

// Close releases the video handle.
func (vs *VideoSource) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.video != nil {
		err := vs.video.Close()
		vs.video = nil
		return err
	}
	return nil
}
