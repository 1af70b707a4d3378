package ffmpeg

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mediadrive/transcode-api/config"
	"github.com/mediadrive/transcode-api/subprocess"
	ffmpeg_go "github.com/u2takey/ffmpeg-go"
)

const (
	// TranscodeLogName is where the worker's stdout+stderr end up, inside the
	// task output directory.
	TranscodeLogName = "transcode.log"
	// InternalManifestName is the playlist the worker writes for itself. The
	// server synthesizes its own playlists and never serves this one.
	InternalManifestName = "internal.m3u8"
	// SegmentFilePattern names segments by absolute index.
	SegmentFilePattern = "segment%d.ts"
)

// TranscodeParams describes one worker invocation.
type TranscodeParams struct {
	SourceURL string
	// Headers is the opaque request-header blob handed to the encoder tool.
	Headers   string
	OutputDir string
	// StartOffsetSec is the input-side seek position. It always equals
	// StartSegment times the segment duration.
	StartOffsetSec     float64
	StartSegment       uint64
	SegmentDurationSec int
	// Legacy disables the hardware decode path for old containers/codecs.
	Legacy bool
}

// Driver builds encoder command lines and starts worker processes. It is
// immutable and safe for concurrent use.
type Driver struct {
	FfmpegPath      string
	UseHWAccel      bool
	VideoEncoder    string
	VideoEncoderSW  string
	AudioEncoder    string
	Preset          string
	PresetSW        string
	VideoBitrate    string
	VideoMaxrate    string
	VideoBufsize    string
	AudioBitrate    string
	AudioChannels   int
	AudioSampleRate int
	GopSize         int
	Loglevel        string
}

func NewDriver(cli config.Cli) *Driver {
	return &Driver{
		FfmpegPath:      cli.FfmpegPath,
		UseHWAccel:      cli.UseHWAccel,
		VideoEncoder:    cli.VideoEncoder,
		VideoEncoderSW:  cli.VideoEncoderSW,
		AudioEncoder:    cli.AudioEncoder,
		Preset:          cli.EncoderPreset,
		PresetSW:        cli.EncoderPresetSW,
		VideoBitrate:    cli.VideoBitrate,
		VideoMaxrate:    cli.VideoMaxrate,
		VideoBufsize:    cli.VideoBufsize,
		AudioBitrate:    cli.AudioBitrate,
		AudioChannels:   cli.AudioChannels,
		AudioSampleRate: cli.AudioSampleRate,
		GopSize:         cli.GopSize,
		Loglevel:        cli.FfmpegLoglevel,
	}
}

// hwaccelActive reports whether the hardware decode+encode path is in play
// for this invocation.
func (d *Driver) hwaccelActive(p TranscodeParams) bool {
	return d.UseHWAccel && !p.Legacy
}

// BuildArgs constructs the full encoder argument vector for a worker that
// starts emitting segment<StartSegment>.ts at StartOffsetSec.
func (d *Driver) BuildArgs(p TranscodeParams) []string {
	hw := d.hwaccelActive(p)

	inputArgs := ffmpeg_go.KwArgs{
		"loglevel": d.loglevel(),
		"ss":       fmt.Sprintf("%.3f", p.StartOffsetSec),
	}
	if p.Headers != "" {
		inputArgs["headers"] = p.Headers
	}
	if hw {
		inputArgs["hwaccel"] = "qsv"
		inputArgs["hwaccel_output_format"] = "qsv"
	}

	outputArgs := ffmpeg_go.KwArgs{
		// Video stage
		"c:v":        d.videoEncoder(p),
		"g":          d.GopSize,
		"keyint_min": d.GopSize,

		// Audio stage
		"c:a": d.AudioEncoder,

		// Keep source timestamps so segment numbering stays aligned with the
		// absolute timeline regardless of where this worker started.
		"map_metadata":          "-1",
		"map_chapters":          "-1",
		"threads":               "4",
		"copyts":                "",
		"avoid_negative_ts":     "disabled",
		"max_muxing_queue_size": "1024",
		"max_delay":             "5000000",

		// HLS muxer
		"f":                    "hls",
		"hls_playlist_type":    "vod",
		"hls_list_size":        "0",
		"hls_time":             p.SegmentDurationSec,
		"hls_segment_type":     "mpegts",
		"start_number":         p.StartSegment,
		"hls_segment_filename": filepath.Join(p.OutputDir, SegmentFilePattern),

		// Overwrite a segment left half-written by a stopped worker.
		"y": "",
	}
	if hw {
		outputArgs["vf"] = "vpp_qsv=format=nv12"
		outputArgs["preset"] = d.Preset
	} else {
		outputArgs["sc_threshold"] = "0"
		outputArgs["pix_fmt"] = "yuv420p"
		outputArgs["preset"] = d.PresetSW
	}
	if d.VideoBitrate != "" {
		outputArgs["b:v"] = d.VideoBitrate
	}
	if d.VideoMaxrate != "" {
		outputArgs["maxrate"] = d.VideoMaxrate
	}
	if d.VideoBufsize != "" {
		outputArgs["bufsize"] = d.VideoBufsize
	}
	if d.AudioBitrate != "" {
		outputArgs["b:a"] = d.AudioBitrate
	}
	if d.AudioChannels > 0 {
		outputArgs["ac"] = d.AudioChannels
	}
	if d.AudioSampleRate > 0 {
		outputArgs["ar"] = d.AudioSampleRate
	}

	stream := ffmpeg_go.Input(p.SourceURL, inputArgs).
		Output(filepath.Join(p.OutputDir, InternalManifestName), outputArgs)
	return stream.GetArgs()
}

func (d *Driver) videoEncoder(p TranscodeParams) string {
	if d.hwaccelActive(p) {
		return d.VideoEncoder
	}
	return d.VideoEncoderSW
}

func (d *Driver) loglevel() string {
	if d.Loglevel == "" {
		return "error"
	}
	return d.Loglevel
}

// Start spawns a worker for the given params, routing its output to the
// transcode log inside the task output directory.
func (d *Driver) Start(p TranscodeParams) (*Worker, error) {
	args := d.BuildArgs(p)
	cmd := exec.Command(d.ffmpegPath(), args...)

	logFile, err := subprocess.RouteToFile(cmd, p.OutputDir, TranscodeLogName)
	if err != nil {
		return nil, err
	}

	w := newWorker(cmd, logFile, p)
	if err := w.start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to spawn worker: %w", err)
	}
	return w, nil
}

func (d *Driver) ffmpegPath() string {
	if d.FfmpegPath == "" {
		return "ffmpeg"
	}
	return d.FfmpegPath
}

// RedactArgs replaces the request-header blob in an argument vector with a
// placeholder so command lines can be logged and exposed on diagnostic
// surfaces without leaking upstream credentials.
func RedactArgs(args []string) string {
	redacted := make([]string, len(args))
	copy(redacted, args)
	for i := 0; i < len(redacted)-1; i++ {
		if redacted[i] == "-headers" {
			redacted[i+1] = "<headers>"
		}
	}
	return strings.Join(redacted, " ")
}
