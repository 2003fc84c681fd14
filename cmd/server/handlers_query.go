package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"pdfqa/internal/llm"
	"pdfqa/internal/retriever"

	"go.uber.org/zap"
)

const (
	msgMissingFields  = "Both 'document_id' and 'question' are required."
	msgInvalidJSON    = "Invalid JSON body."
	msgRetrievalError = "Failed to retrieve relevant document chunks."
	msgAskFailed      = "An unexpected error occurred while answering the question."

	maxAskBodyBytes = 1 << 20
)

type askRequest struct {
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
}

type askResponse struct {
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes)).Decode(&req); err != nil {
		jsonErr(w, msgInvalidJSON, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" || strings.TrimSpace(req.Question) == "" {
		jsonErr(w, msgMissingFields, http.StatusBadRequest)
		return
	}

	answer, err := s.answerer.Answer(r.Context(), req.DocumentID, req.Question)
	if err != nil {
		s.logger.Error("Failed to answer question", zap.String("document_id", req.DocumentID), zap.Error(err))
		switch {
		case errors.Is(err, retriever.ErrRetrieval):
			jsonErr(w, msgRetrievalError, http.StatusInternalServerError)
		case errors.Is(err, llm.ErrGeneration):
			jsonErr(w, llm.ErrGeneration.Error(), http.StatusInternalServerError)
		default:
			jsonErr(w, msgAskFailed, http.StatusInternalServerError)
		}
		return
	}

	jsonResp(w, askResponse{
		DocumentID: req.DocumentID,
		Question:   req.Question,
		Answer:     answer,
	})
}
