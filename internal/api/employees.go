package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/rewards-engine/internal/model"
	"github.com/sells-group/rewards-engine/internal/store"
)

type employeesHandler struct {
	store store.Store
}

type employeeList struct {
	Data []model.Employee `json:"data"`
	Meta listMeta         `json:"meta"`
}

func (h *employeesHandler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, employeeList{
		Data: list,
		Meta: listMeta{Total: len(list), Limit: len(list)},
	})
}

func (h *employeesHandler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
