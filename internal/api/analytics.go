package api

import (
	"fmt"
	"net/http"

	"github.com/sells-group/rewards-engine/internal/analytics"
	"github.com/sells-group/rewards-engine/internal/cache"
	"github.com/sells-group/rewards-engine/internal/cost"
)

type analyticsHandler struct {
	recorder analytics.Recorder
	cache    *cache.Semantic
	calc     *cost.Calculator
	baseline string
}

type analyticsResponse struct {
	analytics.Summary
	Cache cache.Stats `json:"cache"`
}

type summaryResponse struct {
	analytics.Display
	Cache summaryCache `json:"cache"`
}

type summaryCache struct {
	Entries         int    `json:"entries"`
	TotalHits       int64  `json:"totalHits"`
	AvgHitsPerEntry string `json:"avgHitsPerEntry"`
}

func (h *analyticsHandler) load(r *http.Request) (analytics.Summary, cache.Stats, error) {
	metrics, err := h.recorder.Metrics(r.Context())
	if err != nil {
		return analytics.Summary{}, cache.Stats{}, err
	}
	var stats cache.Stats
	if h.cache != nil {
		if stats, err = h.cache.Stats(r.Context()); err != nil {
			return analytics.Summary{}, cache.Stats{}, err
		}
	}
	return analytics.Summarize(metrics, h.calc, h.baseline), stats, nil
}

func (h *analyticsHandler) get(w http.ResponseWriter, r *http.Request) {
	s, stats, err := h.load(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analyticsResponse{Summary: s, Cache: stats})
}

// reset clears the metric log and the judgment cache.
func (h *analyticsHandler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.recorder.Reset(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Clear(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Analytics and cache cleared"})
}

func (h *analyticsHandler) summary(w http.ResponseWriter, r *http.Request) {
	s, stats, err := h.load(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.TotalCalls == 0 {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "No LLM calls tracked yet. Process some events to see analytics.",
		})
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Display: analytics.Format(s),
		Cache: summaryCache{
			Entries:         stats.TotalEntries,
			TotalHits:       stats.TotalHits,
			AvgHitsPerEntry: fmt.Sprintf("%.1f", stats.AvgHitsPerEntry),
		},
	})
}
