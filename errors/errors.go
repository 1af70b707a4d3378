package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mediadrive/transcode-api/log"
)

// Sentinel errors for the orchestrator failure taxonomy. Handlers map these
// onto HTTP statuses; everything else is a 500.
var (
	// ErrNotFound means the task id is unknown.
	ErrNotFound = errors.New("task not found")
	// ErrCapacityReached means too many tasks are already active.
	ErrCapacityReached = errors.New("max concurrent tasks reached")
	// ErrProbeFailed is recovered inside the manager and only shows up as an
	// open-ended playlist. It never reaches HTTP.
	ErrProbeFailed = errors.New("probe failed")
	// ErrSpawnFailed means the transcoding worker could not be started.
	ErrSpawnFailed = errors.New("worker spawn failed")
	// ErrWorkerExited means the worker exited with a non-zero status.
	ErrWorkerExited = errors.New("worker exited with non-zero status")
	// ErrSegmentUnavailable means the manager declined to produce the segment.
	ErrSegmentUnavailable = errors.New("segment unavailable")
	// ErrWaitTimeout means the segment did not appear before the wait deadline.
	ErrWaitTimeout = errors.New("timed out waiting for segment")
)

type apiError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) apiError {
	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoTaskID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}

	return apiError{msg, status, err}
}

// HTTP Errors
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPTooManyRequests(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusTooManyRequests, err)
}

func WriteHTTPServiceUnavailable(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusServiceUnavailable, err)
}

func WriteHTTPGatewayTimeout(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusGatewayTimeout, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}
