package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/rewards-engine/internal/model"
	"github.com/sells-group/rewards-engine/internal/store"
)

type rulesHandler struct {
	store store.Store
	proc  Processor
}

type listMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type ruleList struct {
	Data []model.Rule `json:"data"`
	Meta listMeta     `json:"meta"`
}

func (h *rulesHandler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRuleFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter = filter.Normalize()

	rules, total, err := h.store.ListRules(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleList{
		Data: rules,
		Meta: listMeta{Total: total, Limit: filter.Limit, Offset: filter.Offset},
	})
}

func parseRuleFilter(r *http.Request) (model.RuleFilter, error) {
	var f model.RuleFilter
	q := r.URL.Query()
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, model.Invalid("active must be true or false")
		}
		f.Active = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return f, model.Invalid("limit must be an integer between 1 and 100")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, model.Invalid("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func (h *rulesHandler) create(w http.ResponseWriter, r *http.Request) {
	var in model.RuleInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := in.Build()
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.store.CreateRule(r.Context(), rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *rulesHandler) get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *rulesHandler) update(w http.ResponseWriter, r *http.Request) {
	var patch model.RulePatch
	if err := decode(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	current, err := h.store.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	next, err := patch.Apply(*current)
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.store.UpdateRule(r.Context(), next)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// deactivate soft-deletes the rule and returns it. Grants are untouched.
func (h *rulesHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeactivateRule(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := h.store.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

type testRequest struct {
	Metadata map[string]any `json:"metadata"`
}

func (h *rulesHandler) test(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Metadata == nil {
		writeError(w, r, model.Invalid("metadata is required"))
		return
	}
	res, err := h.proc.SimulateRule(r.Context(), chi.URLParam(r, "id"), req.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
