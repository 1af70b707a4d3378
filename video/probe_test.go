package video

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"
)

func TestItRejectsWhenFormatMissing(t *testing.T) {
	_, _, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
			},
		},
	})
	require.ErrorContains(t, err, "format information missing")
}

func TestItParsesDurationAndStreams(t *testing.T) {
	duration, mi, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "audio",
				CodecName: "aac",
			},
			{
				CodecType: "video",
				CodecName: "h264",
				Width:     1920,
				Height:    1080,
			},
		},
		Format: &ffprobe.Format{
			FormatName:      "mov,mp4,m4a,3gp,3g2,mj2",
			DurationSeconds: 125.4,
		},
	})
	require.NoError(t, err)
	require.Equal(t, 125.4, duration)
	require.Equal(t, "h264", mi.VideoCodec)
	require.Equal(t, "aac", mi.AudioCodec)
	require.Equal(t, 1920, mi.Width)
	require.Equal(t, 1080, mi.Height)
}

func TestItToleratesMissingStreams(t *testing.T) {
	duration, mi, err := parseProbeOutput(&ffprobe.ProbeData{
		Format: &ffprobe.Format{
			FormatName: "matroska,webm",
		},
	})
	require.NoError(t, err)
	require.Zero(t, duration)
	require.Empty(t, mi.VideoCodec)
	require.Empty(t, mi.AudioCodec)
}

func TestTranscodeReasons(t *testing.T) {
	require.Empty(t, TranscodeReasons(MediaInfo{
		Container:  "mov,mp4,m4a,3gp,3g2,mj2",
		VideoCodec: "h264",
		AudioCodec: "aac",
	}, "movie.mp4"))

	reasons := TranscodeReasons(MediaInfo{
		Container:  "matroska,webm",
		VideoCodec: "vp9",
		AudioCodec: "flac",
	}, "movie.mkv")
	require.Len(t, reasons, 3)
	require.Contains(t, reasons[0], "vp9")
	require.Contains(t, reasons[1], "matroska")
	require.Contains(t, reasons[2], "flac")

	reasons = TranscodeReasons(MediaInfo{
		Container:  "avi",
		VideoCodec: "h264",
		AudioCodec: "aac",
	}, "movie.avi")
	require.Len(t, reasons, 1)
	require.Contains(t, reasons[0], "container avi")
}

func TestTranscodeReasonsFallsBackToFileExtension(t *testing.T) {
	reasons := TranscodeReasons(MediaInfo{}, "movie.rmvb")
	require.Len(t, reasons, 1)
	require.Contains(t, reasons[0], "rmvb")
}

func TestIsLegacySource(t *testing.T) {
	require.True(t, IsLegacySource(MediaInfo{Container: "avi"}))
	require.True(t, IsLegacySource(MediaInfo{Container: "asf", VideoCodec: "wmv3"}))
	require.True(t, IsLegacySource(MediaInfo{Container: "mov,mp4,m4a,3gp,3g2,mj2", VideoCodec: "mpeg4"}))
	require.True(t, IsLegacySource(MediaInfo{VideoCodec: "msmpeg4v3"}))
	require.False(t, IsLegacySource(MediaInfo{Container: "matroska,webm", VideoCodec: "h264"}))
	require.False(t, IsLegacySource(MediaInfo{Container: "mov,mp4,m4a,3gp,3g2,mj2", VideoCodec: "hevc"}))
}
