package config

import (
	"fmt"
	"path/filepath"
)

// Cli holds every runtime option of the orchestrator. It is populated once in
// main from flags/env and treated as immutable afterwards.
type Cli struct {
	HTTPAddress         string
	HTTPInternalAddress string
	APIToken            string

	// HLS output
	SegmentDurationSec int
	SeekToleranceSec   int
	SeekGapSegments    int

	// Encoder selection
	UseHWAccel      bool
	VideoEncoder    string
	VideoEncoderSW  string
	AudioEncoder    string
	EncoderPreset   string
	EncoderPresetSW string
	VideoBitrate    string
	VideoMaxrate    string
	VideoBufsize    string
	AudioBitrate    string
	AudioChannels   int
	AudioSampleRate int
	GopSize         int
	FfmpegLoglevel  string

	// Task scheduling
	MaxConcurrentTasks int
	TaskTimeoutSec     int
	CleanupIntervalSec int
	ProbeTimeoutSec    int

	// External tools and storage
	FfmpegPath  string
	FfprobePath string
	WorkDir     string

	// Optional endpoint for refreshing short-lived upstream URLs
	URLRefreshEndpoint string
}

func (cli *Cli) Validate() error {
	if cli.SegmentDurationSec <= 0 {
		return fmt.Errorf("segment-duration must be positive, got %d", cli.SegmentDurationSec)
	}
	if cli.SeekToleranceSec < 0 {
		return fmt.Errorf("seek-tolerance must not be negative, got %d", cli.SeekToleranceSec)
	}
	if cli.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("max-concurrent-tasks must be positive, got %d", cli.MaxConcurrentTasks)
	}
	if cli.WorkDir == "" {
		return fmt.Errorf("work-dir is required")
	}
	if !filepath.IsAbs(cli.WorkDir) {
		abs, err := filepath.Abs(cli.WorkDir)
		if err != nil {
			return fmt.Errorf("cannot resolve work-dir %q: %w", cli.WorkDir, err)
		}
		cli.WorkDir = abs
	}
	return nil
}
