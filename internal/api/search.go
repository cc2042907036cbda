package api

import (
	"encoding/json"
	"net/http"

	"github.com/normex/ragbox-normex/internal/middleware"
	"github.com/normex/ragbox-normex/internal/retrieval"
)

// searchRequest is the JSON body for /api/search and /api/context.
type searchRequest struct {
	Query                   string `json:"query"`
	K                       int    `json:"k"`
	Section                 string `json:"section,omitempty"`
	ChunkType               string `json:"chunkType,omitempty"`
	UseReranker             bool   `json:"useReranker"`
	UseMMR                  bool   `json:"useMMR"`
	UseIntentClassification bool   `json:"useIntentClassification"`
	FastMode                bool   `json:"fastMode"`
}

func (req searchRequest) filters() retrieval.Filters {
	return retrieval.Filters{Section: req.Section, ChunkType: req.ChunkType}
}

func (req searchRequest) flags() retrieval.Flags {
	return retrieval.Flags{
		UseReranker:             req.UseReranker,
		UseMMR:                  req.UseMMR,
		UseIntentClassification: req.UseIntentClassification,
		FastMode:                req.FastMode,
	}
}

func decodeSearchRequest(w http.ResponseWriter, r *http.Request) (searchRequest, bool) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
		return searchRequest{}, false
	}
	if req.Query == "" {
		respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "query is required"})
		return searchRequest{}, false
	}
	return req, true
}

// searchHandler handles POST /api/search, returning the ranked
// SearchResult list from C12 without the context-building stage.
func searchHandler(orchestrator Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSearchRequest(w, r)
		if !ok {
			return
		}

		results, err := orchestrator.Search(r.Context(), req.Query, req.K, req.filters(), req.flags())
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "search failed"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: results})
	}
}

// contextHandler handles POST /api/context, returning the assembled
// StructuredContext from C11/C12 for downstream answer generation.
// metrics is optional; when non-nil, responses flagging a missing
// normative document increment the corresponding counter.
func contextHandler(orchestrator Searcher, metrics *middleware.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSearchRequest(w, r)
		if !ok {
			return
		}

		structured, err := orchestrator.BuildContext(r.Context(), req.Query, req.K, req.filters(), req.flags())
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "context build failed"})
			return
		}

		if metrics != nil && structured.MetaSummary.MissingDocument != "" {
			metrics.IncrementMissingCodeWarning()
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: structured})
	}
}
