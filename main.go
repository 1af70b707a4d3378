package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mediadrive/transcode-api/api"
	"github.com/mediadrive/transcode-api/clients"
	"github.com/mediadrive/transcode-api/config"
	"github.com/mediadrive/transcode-api/ffmpeg"
	"github.com/mediadrive/transcode-api/pipeline"
	"github.com/mediadrive/transcode-api/pprof"
	"github.com/mediadrive/transcode-api/video"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	fs := flag.NewFlagSet("transcode-api", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind for external-facing HTTP handling")
	fs.StringVar(&cli.HTTPInternalAddress, "http-internal-addr", "127.0.0.1:7979", "Address to bind for internal privileged HTTP commands (metrics)")
	fs.StringVar(&cli.APIToken, "api-token", "IAmAuthorized", "Auth header value for API access")

	// HLS output
	fs.IntVar(&cli.SegmentDurationSec, "segment-duration", 3, "Segment duration in seconds")
	fs.IntVar(&cli.SeekToleranceSec, "seek-tolerance", 24, "Forward window in seconds a running worker can absorb without a restart")
	fs.IntVar(&cli.SeekGapSegments, "seek-gap-segments", 10, "Max backward segment gap served by restarting instead of refusing")

	// encoder selection
	fs.BoolVar(&cli.UseHWAccel, "use-hwaccel", false, "Use the QSV hardware decode+encode path")
	fs.StringVar(&cli.VideoEncoder, "video-encoder", "h264_qsv", "Hardware video encoder")
	fs.StringVar(&cli.VideoEncoderSW, "video-encoder-sw", "libx264", "Software video encoder")
	fs.StringVar(&cli.AudioEncoder, "audio-encoder", "aac", "Audio encoder")
	fs.StringVar(&cli.EncoderPreset, "encoder-preset", "veryfast", "Hardware encoder preset")
	fs.StringVar(&cli.EncoderPresetSW, "sw-encoder-preset", "veryfast", "Software encoder preset")
	fs.StringVar(&cli.VideoBitrate, "video-bitrate", "", "Target video bitrate, e.g. 4000k (empty for encoder default)")
	fs.StringVar(&cli.VideoMaxrate, "video-maxrate", "", "Max video bitrate")
	fs.StringVar(&cli.VideoBufsize, "video-bufsize", "", "Video rate-control buffer size")
	fs.StringVar(&cli.AudioBitrate, "audio-bitrate", "128k", "Audio bitrate")
	fs.IntVar(&cli.AudioChannels, "audio-channels", 2, "Audio channel count")
	fs.IntVar(&cli.AudioSampleRate, "audio-sample-rate", 44100, "Audio sample rate")
	fs.IntVar(&cli.GopSize, "gop-size", 90, "Keyframe interval in frames")
	fs.StringVar(&cli.FfmpegLoglevel, "ffmpeg-loglevel", "error", "Loglevel passed to the encoder tool")

	// task scheduling
	fs.IntVar(&cli.MaxConcurrentTasks, "max-concurrent-tasks", 2, "Maximum number of concurrently active transcoding tasks")
	fs.IntVar(&cli.TaskTimeoutSec, "task-timeout", 3600, "Seconds of inactivity before a task is evicted")
	fs.IntVar(&cli.CleanupIntervalSec, "cleanup-interval", 300, "Seconds between idle-task sweeps")
	fs.IntVar(&cli.ProbeTimeoutSec, "probe-timeout", 30, "Seconds allowed per probe attempt")

	// external tools and storage
	fs.StringVar(&cli.FfmpegPath, "ffmpeg-path", "ffmpeg", "Path to the encoder tool")
	fs.StringVar(&cli.FfprobePath, "ffprobe-path", "ffprobe", "Path to the probe tool")
	fs.StringVar(&cli.WorkDir, "work-dir", "", "Directory for segment caches, one subdirectory per content key")
	fs.StringVar(&cli.URLRefreshEndpoint, "url-refresh-endpoint", "", "Optional HTTP endpoint that resolves a content key to fresh upstream credentials")
	pprofPort := fs.Int("pprof-port", 6061, "Pprof listen port")

	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("TRANSCODE_API"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}

	if *version {
		fmt.Printf("transcode-api version: %s\n", config.Version)
		return
	}

	if err := cli.Validate(); err != nil {
		glog.Fatalf("invalid configuration: %s", err)
	}
	if err := os.MkdirAll(cli.WorkDir, 0755); err != nil {
		glog.Fatalf("error creating work dir: %s", err)
	}

	go func() {
		glog.Info(pprof.ListenAndServe(*pprofPort))
	}()

	prober := video.NewProbe(cli.FfprobePath, time.Duration(cli.ProbeTimeoutSec)*time.Second)

	var refresher pipeline.URLRefresher
	if cli.URLRefreshEndpoint != "" {
		refresher = clients.NewRefreshClient(cli.URLRefreshEndpoint)
	} else {
		glog.Info("No url-refresh-endpoint set, worker restarts will reuse the original upstream URLs.")
	}

	manager := pipeline.NewManager(cli, prober, ffmpeg.NewDriver(cli), refresher)

	// Initialize root context; cancelling this prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli, manager)
	})

	group.Go(func() error {
		return api.ListenAndServeInternal(ctx, cli, manager)
	})

	err = group.Wait()
	manager.Shutdown()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
