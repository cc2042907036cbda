package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// statusHandler handles GET /api/documents/{id}.
func statusHandler(svc *DocumentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idParam := chi.URLParam(r, "id")
		id, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid document id"})
			return
		}

		doc, err := svc.Status(r.Context(), id)
		if err != nil {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "document not found"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: doc})
	}
}
