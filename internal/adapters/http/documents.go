package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

// multipartMemory is how much of a batch is buffered in memory before
// parts spill to temp files.
const multipartMemory = 32 << 20

var errServiceUnavailable = domain.WrapError(domain.ErrTemporary, "route", errors.New("service not configured"))

func (rt *Router) uploadDocuments(w http.ResponseWriter, r *http.Request) {
	if rt.services.Ingestor == nil {
		rt.writeError(w, r, errServiceUnavailable)
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form with field 'files' is required"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'files' is required"})
		return
	}

	opts := domain.IngestOptions{
		DeclaredType: domain.ParseDocumentType(r.FormValue("document_type")),
	}
	if raw := strings.TrimSpace(r.FormValue("training_mode")); raw != "" {
		training, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "training_mode must be a boolean"})
			return
		}
		opts.TrainingMode = training
	}

	uploads, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	batch, err := rt.services.Ingestor.Ingest(r.Context(), uploads, opts)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func openUploads(headers []*multipart.FileHeader) ([]domain.Upload, func(), error) {
	files := make([]io.Closer, 0, len(headers))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	uploads := make([]domain.Upload, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("open upload %s: %w", h.Filename, err)
		}
		files = append(files, f)
		uploads = append(uploads, domain.Upload{Filename: h.Filename, Body: f})
	}
	return uploads, closeAll, nil
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	if rt.services.Reader == nil {
		rt.writeError(w, r, errServiceUnavailable)
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	record, err := rt.services.Reader.GetRecord(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) updateAnnotation(w http.ResponseWriter, r *http.Request) {
	if rt.services.Editor == nil {
		rt.writeError(w, r, errServiceUnavailable)
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	fields, err := annotationFields(raw)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	record, err := rt.services.Editor.UpdateAnnotation(r.Context(), id, fields)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// annotationFields accepts string, number and null values; null clears a field.
func annotationFields(raw map[string]any) (domain.FieldSet, error) {
	fields := make(domain.FieldSet, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			fields[domain.Field(key)] = ""
		case string:
			fields[domain.Field(key)] = v
		case float64:
			fields[domain.Field(key)] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return nil, domain.WrapError(domain.ErrInvalidInput, "annotation", fmt.Errorf("field %q must be a string", key))
		}
	}
	return fields, nil
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if rt.services.Editor == nil {
		rt.writeError(w, r, errServiceUnavailable)
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	if err := rt.services.Editor.Delete(r.Context(), id); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) reprocessDocument(w http.ResponseWriter, r *http.Request) {
	if rt.services.Scheduler == nil {
		rt.writeError(w, r, errServiceUnavailable)
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	if err := rt.services.Scheduler.EnqueueReprocess(r.Context(), id); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"document_id": id, "status": "queued"})
}

func (rt *Router) reprocessAll(w http.ResponseWriter, r *http.Request) {
	if rt.services.Reprocessor == nil {
		rt.writeError(w, r, errServiceUnavailable)
		return
	}
	summary, err := rt.services.Reprocessor.ReprocessAll(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) exportXLSX(w http.ResponseWriter, r *http.Request) {
	if rt.services.Exporter == nil {
		rt.writeError(w, r, errServiceUnavailable)
		return
	}
	// The workbook is built in full before the first byte goes out, so a
	// failure can still produce a JSON error.
	var buf bytes.Buffer
	if err := rt.services.Exporter.ExportXLSX(r.Context(), &buf); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="documents.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id must be a positive integer"})
		return 0, false
	}
	return id, true
}
