package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/rewards-engine/internal/model"
)

type eventsHandler struct {
	proc Processor
}

type processRequest struct {
	EventIDs []string `json:"eventIds"`
}

func (h *eventsHandler) process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.EventIDs) == 0 {
		writeError(w, r, model.Invalid("eventIds must contain at least one id"))
		return
	}
	for i, id := range req.EventIDs {
		if strings.TrimSpace(id) == "" {
			writeError(w, r, model.Invalid("eventIds[%d] is empty", i))
			return
		}
	}

	res, err := h.proc.ProcessEvents(r.Context(), req.EventIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *eventsHandler) processAll(w http.ResponseWriter, r *http.Request) {
	zap.L().Info("processing all events against active rules")
	res, err := h.proc.ProcessEvents(r.Context(), nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
