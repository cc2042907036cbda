package api

import (
	"io"
	"net/http"

	"github.com/normex/ragbox-normex/internal/apperr"
)

const maxUploadBytes = 50 << 20 // 50MB upload size ceiling

// uploadHandler handles POST /api/documents, a multipart form with a
// "file" part and an optional "category" field.
func uploadHandler(svc *DocumentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid multipart form"})
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "file part is required"})
			return
		}
		defer file.Close()

		content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to read upload"})
			return
		}
		if len(content) > maxUploadBytes {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "file exceeds 50MB limit"})
			return
		}

		category := r.FormValue("category")

		doc, err := svc.Upload(r.Context(), header.Filename, category, content)
		if err != nil {
			if apperr.Is(err, apperr.InputInvalid) {
				respondJSON(w, http.StatusConflict, envelope{Success: false, Error: err.Error()})
				return
			}
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to ingest document"})
			return
		}

		respondJSON(w, http.StatusAccepted, envelope{Success: true, Data: doc})
	}
}
