package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/mediadrive/transcode-api/log"
	"github.com/mediadrive/transcode-api/pipeline"
)

type TranscodeAPIHandlersCollection struct {
	Manager *pipeline.Manager
	// SegmentWaitTimeout overrides how long segment requests block; zero
	// means the default.
	SegmentWaitTimeout time.Duration
}

func (d *TranscodeAPIHandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if _, err := io.WriteString(w, "OK"); err != nil {
			log.LogNoTaskID("Failed to write HTTP response for " + req.URL.RawPath)
		}
	}
}
