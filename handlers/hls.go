package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	apierrors "github.com/mediadrive/transcode-api/errors"
	"github.com/mediadrive/transcode-api/log"
	"github.com/mediadrive/transcode-api/metrics"
)

const playlistContentType = "application/vnd.apple.mpegurl"
const segmentContentType = "video/mp2t"

// defaultSegmentWaitTimeout bounds how long a segment request blocks while
// the worker catches up. Slightly under common proxy timeouts so the client
// gets a clean 504 from us rather than a dropped connection.
const defaultSegmentWaitTimeout = 110 * time.Second

func (d *TranscodeAPIHandlersCollection) segmentWaitTimeout() time.Duration {
	if d.SegmentWaitTimeout > 0 {
		return d.SegmentWaitTimeout
	}
	return defaultSegmentWaitTimeout
}

// Playlist serves the synthesized playlist. The body is regenerated on every
// request; players re-fetch open playlists periodically.
func (d *TranscodeAPIHandlersCollection) Playlist() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		taskID := strings.TrimSuffix(params.ByName("taskID"), ".m3u8")

		body, err := d.Manager.GetPlaylist(taskID)
		if err != nil {
			apierrors.WriteHTTPNotFound(w, "task not found", err)
			return
		}

		w.Header().Set("Content-Type", playlistContentType)
		w.Header().Set("Cache-Control", "max-age=0")
		if _, err := io.WriteString(w, body); err != nil {
			log.LogError(taskID, "failed to write playlist response", err)
		}
	}
}

// Segment serves one .ts segment, blocking until the worker has produced it.
// Requests for segments the current worker will not reach trigger a restart
// decision in the manager first.
func (d *TranscodeAPIHandlersCollection) Segment() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		taskID := params.ByName("taskID")
		rawSeg := strings.TrimSuffix(params.ByName("segment"), ".ts")
		seg, err := strconv.ParseUint(rawSeg, 10, 64)
		if err != nil {
			apierrors.WriteHTTPBadRequest(w, "invalid segment index", err)
			return
		}

		if err := d.Manager.EnsureSegment(taskID, seg); err != nil {
			switch {
			case errors.Is(err, apierrors.ErrNotFound):
				metrics.Metrics.SegmentServedCount.WithLabelValues("not_found").Inc()
				apierrors.WriteHTTPNotFound(w, "task not found", err)
			case errors.Is(err, apierrors.ErrSegmentUnavailable):
				metrics.Metrics.SegmentServedCount.WithLabelValues("unavailable").Inc()
				apierrors.WriteHTTPServiceUnavailable(w, "segment not available", err)
			case errors.Is(err, apierrors.ErrCapacityReached):
				metrics.Metrics.SegmentServedCount.WithLabelValues("unavailable").Inc()
				apierrors.WriteHTTPTooManyRequests(w, "too many active tasks", err)
			default:
				metrics.Metrics.SegmentServedCount.WithLabelValues("error").Inc()
				apierrors.WriteHTTPServiceUnavailable(w, "cannot produce segment", err)
			}
			return
		}

		if err := d.Manager.WaitForSegment(taskID, seg, d.segmentWaitTimeout()); err != nil {
			switch {
			case errors.Is(err, apierrors.ErrNotFound):
				metrics.Metrics.SegmentServedCount.WithLabelValues("not_found").Inc()
				apierrors.WriteHTTPNotFound(w, "task not found", err)
			case errors.Is(err, apierrors.ErrWaitTimeout):
				metrics.Metrics.SegmentServedCount.WithLabelValues("timeout").Inc()
				apierrors.WriteHTTPGatewayTimeout(w, "timed out waiting for segment", err)
			default:
				metrics.Metrics.SegmentServedCount.WithLabelValues("error").Inc()
				apierrors.WriteHTTPInternalServerError(w, "failed waiting for segment", err)
			}
			return
		}

		path, ok, err := d.Manager.GetSegmentPath(taskID, seg)
		if err != nil {
			metrics.Metrics.SegmentServedCount.WithLabelValues("not_found").Inc()
			apierrors.WriteHTTPNotFound(w, "task not found", err)
			return
		}
		if !ok {
			metrics.Metrics.SegmentServedCount.WithLabelValues("error").Inc()
			apierrors.WriteHTTPInternalServerError(w, "segment vanished after wait", nil)
			return
		}

		metrics.Metrics.SegmentServedCount.WithLabelValues("ok").Inc()
		w.Header().Set("Content-Type", segmentContentType)
		w.Header().Set("Cache-Control", "max-age=0")
		http.ServeFile(w, req, path)
	}
}
