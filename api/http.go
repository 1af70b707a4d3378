package api

import (
	"context"
	"net/http"
	"os"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediadrive/transcode-api/config"
	"github.com/mediadrive/transcode-api/handlers"
	"github.com/mediadrive/transcode-api/log"
	"github.com/mediadrive/transcode-api/middleware"
	"github.com/mediadrive/transcode-api/pipeline"
)

func ListenAndServe(ctx context.Context, cli config.Cli, manager *pipeline.Manager) error {
	router := NewTranscodeAPIRouter(cli, manager)
	server := http.Server{Addr: cli.HTTPAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoTaskID(
		"Starting Transcode API!",
		"version", config.Version,
		"host", cli.HTTPAddress,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// ListenAndServeInternal serves the operator-only surface: metrics and a
// healthcheck, no auth, expected to be bound to a private address.
func ListenAndServeInternal(ctx context.Context, cli config.Cli, manager *pipeline.Manager) error {
	router := NewInternalRouter(manager)
	server := http.Server{Addr: cli.HTTPInternalAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoTaskID(
		"Starting Transcode API internal server",
		"host", cli.HTTPInternalAddress,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewTranscodeAPIRouter(cli config.Cli, manager *pipeline.Manager) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest(requestLogger())
	withAuth := middleware.IsAuthorized

	transcodeHandlers := &handlers.TranscodeAPIHandlersCollection{Manager: manager}

	// Simple endpoint for healthchecks
	router.GET("/ok", withLogging(transcodeHandlers.Ok()))

	// Playback surface: consumed by HLS players, which cannot attach auth
	// headers to media requests.
	router.GET("/hls/playlist/:taskID", withLogging(transcodeHandlers.Playlist()))
	router.GET("/hls/segment/:taskID/:segment", withLogging(transcodeHandlers.Segment()))

	// Management API
	router.POST("/api/task", withLogging(withAuth(cli.APIToken, transcodeHandlers.CreateTask())))
	router.GET("/api/task", withLogging(withAuth(cli.APIToken, transcodeHandlers.ListTasks())))
	router.GET("/api/task/:taskID", withLogging(withAuth(cli.APIToken, transcodeHandlers.GetTask())))
	router.DELETE("/api/task/:taskID", withLogging(withAuth(cli.APIToken, transcodeHandlers.DeleteTask())))
	router.POST("/api/task/:taskID/seek", withLogging(withAuth(cli.APIToken, transcodeHandlers.SeekTask())))

	return router
}

func NewInternalRouter(manager *pipeline.Manager) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest(requestLogger())

	transcodeHandlers := &handlers.TranscodeAPIHandlersCollection{Manager: manager}

	router.GET("/ok", withLogging(transcodeHandlers.Ok()))
	router.Handler("GET", "/metrics", promhttp.Handler())

	return router
}

func requestLogger() kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}
