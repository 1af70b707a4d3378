package pipeline

import (
	"sort"
	"time"

	apierrors "github.com/mediadrive/transcode-api/errors"
	"github.com/mediadrive/transcode-api/video"
)

// TaskSummary is a point-in-time snapshot of a task, safe to hand out and
// serialize after the manager lock is released.
type TaskSummary struct {
	ID         string `json:"task_id"`
	ContentKey string `json:"content_key"`
	FileName   string `json:"file_name"`
	Status     Status `json:"status"`

	Duration            float64 `json:"duration"`
	ProbedDuration      float64 `json:"probed_duration"`
	SegmentDurationSec  int     `json:"segment_duration"`
	CurrentEncodeOffset float64 `json:"current_encode_offset"`
	ExpectedSegments    uint64  `json:"expected_segments"`

	TranscodeReasons []string `json:"transcode_reasons,omitempty"`

	WorkerPid     int    `json:"worker_pid,omitempty"`
	WorkerCommand string `json:"worker_command,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastAccessAt time.Time `json:"last_access_at"`
	AccessCount  int64     `json:"access_count"`

	Error string `json:"error,omitempty"`
}

func (m *Manager) summaryLocked(t *Task) TaskSummary {
	s := TaskSummary{
		ID:                  t.ID,
		ContentKey:          t.ContentKey,
		FileName:            t.FileName,
		Status:              t.Status,
		Duration:            t.Duration(),
		ProbedDuration:      t.ProbedDuration,
		SegmentDurationSec:  t.SegmentDurationSec,
		CurrentEncodeOffset: t.CurrentEncodeOffset,
		ExpectedSegments:    t.ExpectedSegments(),
		TranscodeReasons:    video.TranscodeReasons(t.MediaInfo, t.FileName),
		CreatedAt:           t.CreatedAt,
		LastAccessAt:        t.LastAccessAt,
		AccessCount:         t.AccessCount,
		Error:               t.ErrMsg,
	}
	if t.hasLiveWorker() {
		s.WorkerPid = t.Worker.Pid()
		s.WorkerCommand = t.Worker.RedactedCommand()
	}
	return s
}

// GetTask returns a snapshot of one task without touching its access time.
func (m *Manager) GetTask(taskID string) (TaskSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return TaskSummary{}, apierrors.ErrNotFound
	}
	return m.summaryLocked(task), nil
}

// ListTasks returns snapshots of every known task, newest first.
func (m *Manager) ListTasks() []TaskSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskSummary, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, m.summaryLocked(task))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
