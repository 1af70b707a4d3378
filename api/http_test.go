package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediadrive/transcode-api/config"
	"github.com/mediadrive/transcode-api/ffmpeg"
	"github.com/mediadrive/transcode-api/pipeline"
	"github.com/mediadrive/transcode-api/video"
)

type stubProbe struct{}

func (p *stubProbe) ProbeSource(taskID, url, headers string) (float64, video.MediaInfo, error) {
	return 600, video.MediaInfo{}, nil
}

func testRouterSetup(t *testing.T) (config.Cli, *pipeline.Manager) {
	t.Helper()
	ffmpegPath := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(ffmpegPath, []byte("#!/bin/sh\nsleep 60\n"), 0755))

	cli := config.Cli{
		APIToken:           "secret-token",
		SegmentDurationSec: 3,
		SeekToleranceSec:   24,
		SeekGapSegments:    10,
		VideoEncoderSW:     "libx264",
		AudioEncoder:       "aac",
		EncoderPresetSW:    "veryfast",
		GopSize:            90,
		MaxConcurrentTasks: 2,
		TaskTimeoutSec:     600,
		CleanupIntervalSec: 600,
		FfmpegPath:         ffmpegPath,
		WorkDir:            t.TempDir(),
	}
	manager := pipeline.NewManager(cli, &stubProbe{}, ffmpeg.NewDriver(cli), nil)
	t.Cleanup(manager.Shutdown)
	return cli, manager
}

func TestRouterHealthcheck(t *testing.T) {
	cli, manager := testRouterSetup(t)
	router := NewTranscodeAPIRouter(cli, manager)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestRouterRequiresAuthOnManagementAPI(t *testing.T) {
	cli, manager := testRouterSetup(t)
	router := NewTranscodeAPIRouter(cli, manager)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/task?key=k1&url=https://x", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/task?key=k1&url=https://x", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterPlaybackIsOpen(t *testing.T) {
	cli, manager := testRouterSetup(t)
	router := NewTranscodeAPIRouter(cli, manager)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hls/playlist/deadbeef.m3u8", nil))
	require.Equal(t, http.StatusNotFound, rec.Code, "no auth challenge, just unknown task")
}

func TestInternalRouterServesMetrics(t *testing.T) {
	_, manager := testRouterSetup(t)
	router := NewInternalRouter(manager)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
