package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskIDIsStableAndShort(t *testing.T) {
	id := TaskID("movies/1234/source.mkv")
	require.Len(t, id, 16)
	require.Equal(t, id, TaskID("movies/1234/source.mkv"))
	require.NotEqual(t, id, TaskID("movies/1235/source.mkv"))
}

func TestCanSeekDirectly(t *testing.T) {
	task := &Task{SegmentDurationSec: 3, Status: StatusRunning, CurrentEncodeOffset: 30}

	require.True(t, task.CanSeekDirectly(30, 24))
	require.True(t, task.CanSeekDirectly(54, 24))
	require.False(t, task.CanSeekDirectly(55, 24), "past the tolerance window")
	require.False(t, task.CanSeekDirectly(29, 24), "backward seeks always need a decision")

	task.Status = StatusCompleted
	require.False(t, task.CanSeekDirectly(30, 24), "finished tasks cannot absorb seeks")
}

func TestSegmentOfClampsToExpectedRange(t *testing.T) {
	task := &Task{SegmentDurationSec: 3, ProbedDuration: 125.4}

	require.Equal(t, uint64(0), task.SegmentOf(-5))
	require.Equal(t, uint64(0), task.SegmentOf(2.9))
	require.Equal(t, uint64(10), task.SegmentOf(30))
	require.Equal(t, uint64(41), task.SegmentOf(125.3), "last segment")
	require.Equal(t, uint64(41), task.SegmentOf(9999), "clamped to the last segment")
}

func TestSegmentOfUnknownDurationDoesNotClamp(t *testing.T) {
	task := &Task{SegmentDurationSec: 3}
	require.Equal(t, uint64(3333), task.SegmentOf(9999))
}

func TestExpectedSegments(t *testing.T) {
	task := &Task{SegmentDurationSec: 3, ProbedDuration: 125.4}
	require.Equal(t, uint64(42), task.ExpectedSegments())

	task.ProbedDuration = 0
	require.Equal(t, uint64(0), task.ExpectedSegments())

	task.HintDuration = 60
	require.Equal(t, uint64(20), task.ExpectedSegments(), "hint kicks in when probing failed")
}

func TestFloorToSegment(t *testing.T) {
	task := &Task{SegmentDurationSec: 3}
	require.Equal(t, float64(0), task.FloorToSegment(-1))
	require.Equal(t, float64(0), task.FloorToSegment(2.99))
	require.Equal(t, float64(9), task.FloorToSegment(10))
	require.Equal(t, float64(99), task.FloorToSegment(99))
}
