package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mediadrive/transcode-api/log"
	"github.com/mediadrive/transcode-api/metrics"
	"gopkg.in/vansante/go-ffprobe.v2"
)

type Prober interface {
	ProbeSource(taskID, url, headers string) (float64, MediaInfo, error)
}

type Probe struct {
	// Timeout applies to each individual ffprobe invocation.
	Timeout time.Duration
}

func NewProbe(ffprobePath string, timeout time.Duration) Probe {
	if ffprobePath != "" {
		ffprobe.SetFFProbeBinPath(ffprobePath)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return Probe{Timeout: timeout}
}

// ProbeSource runs the probing tool against the upstream URL and extracts the
// duration plus the codec/container info used to pick the decode path. The
// headers blob is passed through verbatim so that presigned upstream URLs
// keep working.
func (p Probe) ProbeSource(taskID, url, headers string) (float64, MediaInfo, error) {
	start := time.Now()
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), p.Timeout)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, url, probeOptions(headers)...)
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // the per-attempt context carries the timeout
	err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 2))
	if err != nil {
		return 0, MediaInfo{}, err
	}
	metrics.Metrics.ProbeDurationSec.Observe(time.Since(start).Seconds())
	duration, mi, err := parseProbeOutput(data)
	if err != nil {
		return 0, MediaInfo{}, err
	}
	log.Log(taskID, "probed source",
		"duration", duration,
		"container", mi.Container,
		"video_codec", mi.VideoCodec,
		"audio_codec", mi.AudioCodec,
		"resolution", fmt.Sprintf("%dx%d", mi.Width, mi.Height),
	)
	return duration, mi, nil
}

func probeOptions(headers string) []string {
	opts := []string{"-loglevel", "error"}
	if headers != "" {
		opts = append(opts, "-headers", headers)
	}
	return opts
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (float64, MediaInfo, error) {
	// We rely on this being present to get required information about the input video, so error out if it isn't
	if probeData == nil || probeData.Format == nil {
		return 0, MediaInfo{}, errors.New("error parsing probed source: format information missing")
	}

	mi := MediaInfo{
		Container: probeData.Format.FormatName,
	}
	if videoStream := probeData.FirstVideoStream(); videoStream != nil {
		mi.VideoCodec = videoStream.CodecName
		mi.Width = videoStream.Width
		mi.Height = videoStream.Height
	}
	if audioStream := probeData.FirstAudioStream(); audioStream != nil {
		mi.AudioCodec = audioStream.CodecName
	}

	// A source with no parseable duration is still playable; callers treat
	// duration 0 as unknown and fall back to an open-ended playlist.
	duration := probeData.Format.DurationSeconds
	if duration < 0 {
		duration = 0
	}
	return duration, mi, nil
}
