package pipeline

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"time"

	"github.com/mediadrive/transcode-api/ffmpeg"
	"github.com/mediadrive/transcode-api/video"
)

// Status is the lifecycle state of a transcoding task.
//
//	Starting ── start ──► Running ── first segment ──► Ready
//	    │                    │                           │
//	    │                    └──── process exit 0 ───────┴──► Completed
//	    └── spawn/exit failures ──► Error;  teardown ──► Stopped
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// Task is the per-content-key record. All fields are guarded by the owning
// Manager's lock; a Task is never mutated from outside the pipeline package.
type Task struct {
	ID         string
	ContentKey string
	FileName   string

	// Current upstream access credentials; refreshed before worker restarts.
	SourceURL      string
	RequestHeaders string

	// ProbedDuration is 0 when probing failed; HintDuration is the caller
	// supplied fallback.
	ProbedDuration float64
	HintDuration   float64
	MediaInfo      video.MediaInfo

	OutputDir          string
	SegmentDurationSec int

	// CurrentEncodeOffset is where the currently running (or last started)
	// worker was told to begin. It always sits on a segment boundary.
	CurrentEncodeOffset float64

	Status Status
	Worker *ffmpeg.Worker

	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	LastAccessAt time.Time
	AccessCount  int64

	ErrMsg string
}

// TaskID derives the stable task id from the content key. The same video maps
// to the same id and output directory across process restarts, which is what
// lets the on-disk segment cache survive task eviction.
func TaskID(contentKey string) string {
	sum := sha1.Sum([]byte(contentKey))
	return hex.EncodeToString(sum[:])[:16]
}

func (t *Task) IsActive() bool {
	switch t.Status {
	case StatusStarting, StatusRunning, StatusReady:
		return true
	}
	return false
}

func (t *Task) IsFinished() bool {
	switch t.Status {
	case StatusCompleted, StatusError, StatusStopped:
		return true
	}
	return false
}

// Duration returns the best known source duration, 0 for unknown.
func (t *Task) Duration() float64 {
	if t.ProbedDuration > 0 {
		return t.ProbedDuration
	}
	return t.HintDuration
}

// CanSeekDirectly reports whether a seek to targetSec lands inside the
// forward window the current worker will cover soon enough that the client
// can simply keep buffering.
func (t *Task) CanSeekDirectly(targetSec, toleranceSec float64) bool {
	if t.IsFinished() {
		return false
	}
	return targetSec >= t.CurrentEncodeOffset && targetSec-t.CurrentEncodeOffset <= toleranceSec
}

// SegmentOf maps a timestamp to its absolute segment index, clamped to the
// expected range when the duration is known.
func (t *Task) SegmentOf(sec float64) uint64 {
	if sec < 0 {
		return 0
	}
	seg := uint64(sec / float64(t.SegmentDurationSec))
	if d := t.Duration(); d > 0 {
		if last := t.ExpectedSegments() - 1; seg > last {
			seg = last
		}
	}
	return seg
}

// ExpectedSegments is the total segment count for a known duration, 0 when
// the duration is unknown.
func (t *Task) ExpectedSegments() uint64 {
	d := t.Duration()
	if d <= 0 {
		return 0
	}
	return uint64(math.Ceil(d / float64(t.SegmentDurationSec)))
}

// FloorToSegment aligns a timestamp down to its segment boundary.
func (t *Task) FloorToSegment(sec float64) float64 {
	if sec < 0 {
		return 0
	}
	return float64(uint64(sec/float64(t.SegmentDurationSec))) * float64(t.SegmentDurationSec)
}

func (t *Task) touch(now time.Time) {
	t.LastAccessAt = now
	t.AccessCount++
}

// hasLiveWorker reports whether a worker process is currently attached and
// not yet reaped.
func (t *Task) hasLiveWorker() bool {
	return t.Worker != nil && !t.Worker.Exited()
}
