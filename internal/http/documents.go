package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/SANCHES-Pedro/bq-back/internal/service/documents"
)

const maxDocumentRequestBytes = 1 << 20

type documentResponse struct {
	Document string `json:"document"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// documentsHandler serves POST /v1/documents.
func documentsHandler(gen DocumentGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gen == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "document generation is not configured"})
			return
		}

		var req documents.Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentRequestBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}

		doc, err := gen.Generate(r.Context(), req)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, documentResponse{Document: doc})
		case errors.Is(err, documents.ErrEmptyTranscript), errors.Is(err, documents.ErrUnknownTemplate):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		default:
			log.Error().Err(err).Str("template", req.Template).Msg("Document generation failed")
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "document generation failed"})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
