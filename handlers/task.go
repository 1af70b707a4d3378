package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/julienschmidt/httprouter"

	apierrors "github.com/mediadrive/transcode-api/errors"
	"github.com/mediadrive/transcode-api/log"
	"github.com/mediadrive/transcode-api/pipeline"
)

// UpstreamHeadersHeader carries the opaque request-header blob the worker
// forwards to the upstream source. It is passed as a header rather than a
// query param because it is itself header-formatted.
const UpstreamHeadersHeader = "X-Upstream-Headers"

type taskResponse struct {
	pipeline.TaskSummary
	PlaylistURL string `json:"playlist_url"`
}

func toTaskResponse(s pipeline.TaskSummary) taskResponse {
	return taskResponse{
		TaskSummary: s,
		PlaylistURL: fmt.Sprintf("/hls/playlist/%s.m3u8", s.ID),
	}
}

// CreateTask resolves (or creates) the task for a content key and returns its
// status plus the playlist URL to hand to the player.
func (d *TranscodeAPIHandlersCollection) CreateTask() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		query := req.URL.Query()

		contentKey := query.Get("key")
		if contentKey == "" {
			apierrors.WriteHTTPBadRequest(w, "key is required", nil)
			return
		}
		sourceURL := query.Get("url")
		if sourceURL == "" {
			apierrors.WriteHTTPBadRequest(w, "url is required", nil)
			return
		}
		fileName := query.Get("file")
		if fileName == "" {
			fileName = path.Base(contentKey)
		}

		start, err := parseFloatParam(query.Get("start"))
		if err != nil {
			apierrors.WriteHTTPBadRequest(w, "invalid start", err)
			return
		}
		hint, err := parseFloatParam(query.Get("hint"))
		if err != nil {
			apierrors.WriteHTTPBadRequest(w, "invalid hint", err)
			return
		}

		summary, err := d.Manager.GetOrCreateTask(pipeline.CreateTaskParams{
			ContentKey:      contentKey,
			FileName:        fileName,
			SourceURL:       sourceURL,
			RequestHeaders:  req.Header.Get(UpstreamHeadersHeader),
			StartTimeSec:    start,
			HintDurationSec: hint,
		})
		if err != nil {
			if errors.Is(err, apierrors.ErrCapacityReached) {
				apierrors.WriteHTTPTooManyRequests(w, "too many active tasks", err)
				return
			}
			apierrors.WriteHTTPInternalServerError(w, "failed to create task", err)
			return
		}

		writeJSON(w, toTaskResponse(summary))
	}
}

func (d *TranscodeAPIHandlersCollection) ListTasks() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		summaries := d.Manager.ListTasks()
		out := make([]taskResponse, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, toTaskResponse(s))
		}
		writeJSON(w, out)
	}
}

func (d *TranscodeAPIHandlersCollection) GetTask() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		summary, err := d.Manager.GetTask(params.ByName("taskID"))
		if err != nil {
			apierrors.WriteHTTPNotFound(w, "task not found", err)
			return
		}
		writeJSON(w, toTaskResponse(summary))
	}
}

func (d *TranscodeAPIHandlersCollection) DeleteTask() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		if err := d.Manager.DeleteTask(params.ByName("taskID")); err != nil {
			apierrors.WriteHTTPNotFound(w, "task not found", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SeekTask moves a task's encode position to the requested time, restarting
// the worker only when the target cannot be served another way.
func (d *TranscodeAPIHandlersCollection) SeekTask() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		taskID := params.ByName("taskID")
		target, err := parseFloatParam(req.URL.Query().Get("t"))
		if err != nil {
			apierrors.WriteHTTPBadRequest(w, "invalid t", err)
			return
		}

		offset, restarted, err := d.Manager.Seek(taskID, target)
		if err != nil {
			switch {
			case errors.Is(err, apierrors.ErrNotFound):
				apierrors.WriteHTTPNotFound(w, "task not found", err)
			case errors.Is(err, apierrors.ErrCapacityReached):
				apierrors.WriteHTTPTooManyRequests(w, "too many active tasks", err)
			default:
				apierrors.WriteHTTPInternalServerError(w, "seek failed", err)
			}
			return
		}

		writeJSON(w, map[string]interface{}{
			"current_encode_offset": offset,
			"restarted":             restarted,
		})
	}
}

func parseFloatParam(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.LogNoTaskID("failed to write JSON response", "error", err)
	}
}
