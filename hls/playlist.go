package hls

import (
	"fmt"
	"math"

	"github.com/grafov/m3u8"
)

// openPlaylistPrimerCount is how many nominal-length entries an open-ended
// playlist advertises while the source duration is still unknown. Clients
// keep refetching because the playlist carries no EXT-X-ENDLIST.
const openPlaylistPrimerCount = 100

// PlaylistParams describes one synthesized playlist. The synthesizer is pure:
// it never looks at the filesystem or at worker state.
type PlaylistParams struct {
	TaskID string
	// DurationSec <= 0 means unknown and produces an open-ended playlist.
	DurationSec        float64
	SegmentDurationSec int
	// FirstSegment is the absolute index of the first advertised segment and
	// becomes the EXT-X-MEDIA-SEQUENCE value.
	FirstSegment uint64
	// StartOffsetSec, when positive, is surfaced as EXT-X-START so players
	// begin buffering at the first segment that already exists on disk.
	StartOffsetSec float64
	// URIPrefix is prepended to every segment URI, e.g. "/hls".
	URIPrefix string
}

// Synthesize renders a media playlist for a task before the worker has
// produced a single byte. Segment URIs carry absolute indices so they stay
// stable across seeks and worker restarts.
func Synthesize(p PlaylistParams) (string, error) {
	if p.SegmentDurationSec <= 0 {
		return "", fmt.Errorf("segment duration must be positive, got %d", p.SegmentDurationSec)
	}
	if p.DurationSec > 0 {
		return closedPlaylist(p)
	}
	return openPlaylist(p)
}

// closedPlaylist emits a VOD playlist covering the whole known duration. The
// final entry's EXTINF is the true remainder so the advertised timeline adds
// up to the probed duration exactly.
func closedPlaylist(p PlaylistParams) (string, error) {
	segDur := float64(p.SegmentDurationSec)
	count := uint64(math.Ceil(p.DurationSec / segDur))
	if count <= p.FirstSegment {
		count = p.FirstSegment + 1
	}

	pl, err := m3u8.NewMediaPlaylist(0, uint(count-p.FirstSegment))
	if err != nil {
		return "", fmt.Errorf("failed to create media playlist: %w", err)
	}
	pl.MediaType = m3u8.VOD
	pl.SeqNo = p.FirstSegment
	if p.StartOffsetSec > 0 {
		pl.StartTime = p.StartOffsetSec
	}

	for i := p.FirstSegment; i < count; i++ {
		dur := segDur
		if remainder := p.DurationSec - float64(i)*segDur; remainder < dur {
			dur = remainder
		}
		if err := pl.Append(segmentURI(p, i), dur, "nodesc"); err != nil {
			return "", fmt.Errorf("failed to append segment %d: %w", i, err)
		}
	}
	// Write #EXT-X-ENDLIST
	pl.Close()
	return pl.Encode().String(), nil
}

// openPlaylist emits an EVENT playlist with a fixed primer of nominal-length
// entries and no endlist marker.
func openPlaylist(p PlaylistParams) (string, error) {
	pl, err := m3u8.NewMediaPlaylist(0, openPlaylistPrimerCount)
	if err != nil {
		return "", fmt.Errorf("failed to create media playlist: %w", err)
	}
	pl.MediaType = m3u8.EVENT
	pl.SeqNo = p.FirstSegment
	if p.StartOffsetSec > 0 {
		pl.StartTime = p.StartOffsetSec
	}

	for i := uint64(0); i < openPlaylistPrimerCount; i++ {
		if err := pl.Append(segmentURI(p, p.FirstSegment+i), float64(p.SegmentDurationSec), "nodesc"); err != nil {
			return "", fmt.Errorf("failed to append segment %d: %w", p.FirstSegment+i, err)
		}
	}
	return pl.Encode().String(), nil
}

func segmentURI(p PlaylistParams, index uint64) string {
	return fmt.Sprintf("%s/segment/%s/%d.ts", p.URIPrefix, p.TaskID, index)
}
