package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// The segment cache is deliberately filesystem-backed rather than an
// in-memory set: segments outlive task eviction and are picked up again when
// the same content key comes back.

// SegmentPath returns where segment seg of this task lives on disk.
func SegmentPath(outputDir string, seg uint64) string {
	return filepath.Join(outputDir, fmt.Sprintf("segment%d.ts", seg))
}

// segmentExists treats partial (zero-byte) files as absent: the worker
// creates segment files before finishing them.
func segmentExists(outputDir string, seg uint64) bool {
	info, err := os.Stat(SegmentPath(outputDir, seg))
	return err == nil && info.Size() > 0
}

// segmentCreated is the weaker check used by the N+1 completeness heuristic;
// the mere existence of the next segment file means the previous one has been
// flushed and closed.
func segmentCreated(outputDir string, seg uint64) bool {
	_, err := os.Stat(SegmentPath(outputDir, seg))
	return err == nil
}

// firstMissingAfter walks forward from seg across the contiguous cached run
// and returns the first segment index that is absent.
func firstMissingAfter(outputDir string, seg uint64) uint64 {
	n := seg
	for segmentExists(outputDir, n) {
		n++
	}
	return n
}

// lowestExistingSegment binary searches for the smallest cached segment index
// in [0, limit]. The cache below the current encode offset is a contiguous
// run produced by earlier workers, which is what makes the bisection valid.
// The second return is false when nothing at or below limit exists.
func lowestExistingSegment(outputDir string, limit uint64) (uint64, bool) {
	lo, hi := uint64(0), limit
	for lo < hi {
		mid := lo + (hi-lo)/2
		if segmentExists(outputDir, mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if segmentExists(outputDir, lo) {
		return lo, true
	}
	return 0, false
}

// highestExistingSegment scans the output directory for the largest segment
// index present, used to estimate a duration when probing failed and no hint
// was given. The second return is false for an empty cache.
func highestExistingSegment(outputDir string) (uint64, bool) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return 0, false
	}
	var max uint64
	found := false
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "segment") || !strings.HasSuffix(name, ".ts") {
			continue
		}
		idx, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "segment"), ".ts"), 10, 64)
		if err != nil {
			continue
		}
		if !found || idx > max {
			max = idx
			found = true
		}
	}
	return max, found
}
