package frame

import "time"

// Stats is a snapshot of render performance over the last full window.
type Stats struct {
	FPS           float64       `json:"fps"`
	FrameTime     time.Duration `json:"frame_time_ns"`
	DroppedFrames uint64        `json:"dropped_frames"`
	Pattern       string        `json:"pattern"`
}

// statsWindow accumulates frames until a window elapses.
type statsWindow struct {
	start   time.Time
	frames  int
	length  time.Duration
	current Stats
}

func newStatsWindow(now time.Time, length time.Duration) *statsWindow {
	return &statsWindow{start: now, length: length}
}

// frame records one completed frame and reports whether the window rolled.
func (w *statsWindow) frame(now time.Time) bool {
	w.frames++
	elapsed := now.Sub(w.start)
	if elapsed < w.length {
		return false
	}
	w.current.FPS = float64(w.frames) / elapsed.Seconds()
	w.current.FrameTime = elapsed / time.Duration(w.frames)
	w.frames = 0
	w.start = now
	return true
}
