package main

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"pdfqa/internal/chunker"
	"pdfqa/internal/extractor"
	"pdfqa/internal/indexer"
	"pdfqa/internal/vectorstore"

	"go.uber.org/zap"
)

const (
	msgInvalidType  = "Invalid file type. Only PDFs are allowed."
	msgBadUpload    = "Invalid upload. Send the PDF as multipart/form-data."
	msgEmptyUpload  = "Uploaded PDF file is empty."
	msgNoFile       = "No file uploaded. Send the PDF in the 'file' form field."
	msgTooLarge     = "Uploaded file is too large."
	msgIndexed      = "PDF processed and indexed successfully."
	msgStoreFailed  = "Failed to store document in the vector database."
	msgUploadFailed = "An unexpected error occurred during file processing."

	// multipart parts above this size spill to temporary files
	multipartMemory = 32 << 20
)

type uploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Message    string `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, msgTooLarge, http.StatusBadRequest)
			return
		}
		s.logger.Info("Rejected malformed upload", zap.Error(err))
		jsonErr(w, msgBadUpload, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonErr(w, msgNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	mediaType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/pdf" {
		s.logger.Info("Rejected upload with invalid content type",
			zap.String("filename", header.Filename),
			zap.String("content_type", header.Header.Get("Content-Type")))
		jsonErr(w, msgInvalidType, http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("Failed to read upload", zap.String("filename", header.Filename), zap.Error(err))
		jsonErr(w, msgUploadFailed, http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		jsonErr(w, msgEmptyUpload, http.StatusBadRequest)
		return
	}

	docID, err := s.indexer.IndexPDF(r.Context(), data, header.Filename)
	if err != nil {
		s.logger.Error("Failed to index upload", zap.String("filename", header.Filename), zap.Error(err))
		switch {
		case errors.Is(err, extractor.ErrExtraction):
			jsonErr(w, extractor.ErrExtraction.Error(), http.StatusBadRequest)
		case errors.Is(err, indexer.ErrNoText):
			jsonErr(w, indexer.ErrNoText.Error(), http.StatusBadRequest)
		case errors.Is(err, chunker.ErrEmptyInput):
			jsonErr(w, chunker.ErrEmptyInput.Error(), http.StatusBadRequest)
		case errors.Is(err, vectorstore.ErrStorage):
			jsonErr(w, msgStoreFailed, http.StatusInternalServerError)
		default:
			jsonErr(w, msgUploadFailed, http.StatusInternalServerError)
		}
		return
	}

	jsonResp(w, uploadResponse{
		DocumentID: docID,
		Filename:   header.Filename,
		Message:    msgIndexed,
	})
}
