package video

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MediaInfo is the subset of probed metadata the orchestrator cares about.
// It is only used to pick the decode path, never to refuse a source.
type MediaInfo struct {
	Container  string
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int
}

var compatibleVideoCodecs = []string{"h264", "hevc"}
var compatibleAudioCodecs = []string{"aac", "mp3", "opus", "vorbis"}
var incompatibleContainers = []string{"avi", "wmv", "asf", "mkv", "flv", "rmvb"}

// Containers and codecs old enough that QSV hardware decoding is unreliable.
// Sources matching these are always decoded and encoded in software.
var legacyContainers = []string{"avi", "asf", "wmv"}
var legacyVideoCodecs = []string{"mpeg4", "msmpeg4v2", "msmpeg4v3", "mpeg1video"}

// TranscodeReasons lists why a source needs a full transcode rather than a
// remux. An empty list means the streams are directly HLS-compatible, but the
// orchestrator transcodes either way; the reasons are diagnostic.
func TranscodeReasons(mi MediaInfo, fileName string) []string {
	var reasons []string
	if mi.VideoCodec != "" && !contains(compatibleVideoCodecs, mi.VideoCodec) {
		reasons = append(reasons, fmt.Sprintf("video codec %s is not HLS-compatible", mi.VideoCodec))
	}
	// ffprobe names containers after demuxers ("matroska,webm"), while the
	// block list speaks in file extensions, so the extension is checked too.
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if containerMatches(incompatibleContainers, mi.Container) || contains(incompatibleContainers, ext) {
		container := mi.Container
		if container == "" {
			container = ext
		}
		reasons = append(reasons, fmt.Sprintf("container %s is not HLS-compatible", container))
	}
	if mi.AudioCodec != "" && !contains(compatibleAudioCodecs, mi.AudioCodec) {
		reasons = append(reasons, fmt.Sprintf("audio codec %s is not HLS-compatible", mi.AudioCodec))
	}
	return reasons
}

// IsLegacySource reports whether the hardware decode path must be skipped.
func IsLegacySource(mi MediaInfo) bool {
	return containerMatches(legacyContainers, mi.Container) || contains(legacyVideoCodecs, mi.VideoCodec)
}

// ffprobe reports container names as comma separated lists, e.g.
// "mov,mp4,m4a,3gp,3g2,mj2", so a plain equality check is not enough.
func containerMatches(list []string, container string) bool {
	for _, name := range strings.Split(strings.ToLower(container), ",") {
		if contains(list, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	s = strings.ToLower(s)
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
