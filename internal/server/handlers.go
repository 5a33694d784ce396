package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/zombor/docscan/internal/history"
	"github.com/zombor/docscan/internal/scanning"
	"github.com/zombor/docscan/internal/session"
)

// maxFormSize bounds capture uploads (high-resolution phone photos and PDFs)
const maxFormSize = int64(50 << 20)

// maxScanRequestSize bounds the JSON body of a scan request
const maxScanRequestSize = int64(64 << 10)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error response with CORS headers set
func writeError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{
		"error": message,
	})
}

// handleScanDocument starts a scan and responds once it has finished
func (s *Server) handleScanDocument(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxScanRequestSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Error reading request body")
		return
	}

	var req session.Request
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	result, err := s.controller.ScanDocument(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			slog.Info("Scan caller went away before the scan finished", "error", err)
			return
		}

		var startErr *session.StartError
		switch {
		case errors.Is(err, session.ErrAlreadyInProgress):
			writeError(w, http.StatusConflict, "Another scan is in progress.")
		case errors.Is(err, session.ErrNotReady):
			writeError(w, http.StatusServiceUnavailable, "Document scanner is not ready.")
		case errors.Is(err, session.ErrEnvironmentUnavailable):
			writeError(w, http.StatusServiceUnavailable, "Host environment is unavailable.")
		case errors.As(err, &startErr):
			writeError(w, http.StatusBadGateway, startErr.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if result.Status == session.StatusCancelled {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": string(session.StatusCancelled),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        string(session.StatusSuccess),
		"scannedImages": result.Images,
	})
}

// handleScanState reports whether a scan is in flight
func (s *Server) handleScanState(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"state": s.controller.State().String(),
	}
	if id, ok := s.controller.Pending(); ok {
		response["session_id"] = id
	}
	writeJSON(w, http.StatusOK, response)
}

// handleVersion returns the static version string
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": s.config.Version,
	})
}

// handleListHandoffs returns the handoffs waiting for a capture device
func (s *Server) handleListHandoffs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Open())
}

// handleGetHandoff returns one open handoff
func (s *Server) handleGetHandoff(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	handoff, captures, err := s.relay.Lookup(token)
	if err != nil {
		writeError(w, http.StatusNotFound, "Handoff not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"handoff":  handoff,
		"captures": captures,
	})
}

// handleHandoffQR renders the handoff URL as a QR code for a capture device
func (s *Server) handleHandoffQR(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if _, _, err := s.relay.Lookup(token); err != nil {
		writeError(w, http.StatusNotFound, "Handoff not found")
		return
	}

	png, err := qrcode.Encode(s.handoffURL(r, token), qrcode.Medium, 256)
	if err != nil {
		slog.Error("Error rendering QR code", "token", token, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *Server) handoffURL(r *http.Request, token string) string {
	base := strings.TrimRight(s.config.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return fmt.Sprintf("%s/api/handoffs/%s", base, token)
}

// handleAddCapture accepts one or more captured images or PDFs for a handoff
func (s *Server) handleAddCapture(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}

	var captures int
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			slog.Error("Error opening uploaded file", "error", err, "filename", header.Filename)
			writeError(w, http.StatusBadRequest, "Error reading file. Please try again.")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
			return
		}

		captures, err = s.relay.AddCapture(token, data, contentTypeOf(header.Header.Get("Content-Type"), header.Filename))
		if err != nil {
			switch {
			case errors.Is(err, scanning.ErrHandoffNotFound):
				writeError(w, http.StatusNotFound, "Handoff not found")
			case errors.Is(err, scanning.ErrPageLimitReached):
				writeError(w, http.StatusConflict, "Page limit reached")
			case errors.Is(err, scanning.ErrEmptyCapture):
				writeError(w, http.StatusBadRequest, "Uploaded file is empty")
			default:
				writeError(w, http.StatusConflict, err.Error())
			}
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]int{
		"captures": captures,
	})
}

// contentTypeOf determines a capture's content type, falling back to the file extension
func contentTypeOf(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleCompleteHandoff finishes the capture and delivers the pages
func (s *Server) handleCompleteHandoff(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if err := s.relay.Complete(r.Context(), token); err != nil {
		switch {
		case errors.Is(err, scanning.ErrHandoffNotFound):
			writeError(w, http.StatusNotFound, "Handoff not found")
		case errors.Is(err, scanning.ErrHandoffNotPresented):
			writeError(w, http.StatusConflict, "Handoff is not open for capture")
		default:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "completed",
	})
}

// handleCancelHandoff reports the scan as cancelled by the user
func (s *Server) handleCancelHandoff(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if err := s.relay.Cancel(token); err != nil {
		writeError(w, http.StatusNotFound, "Handoff not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(session.StatusCancelled),
	})
}

// handleFailHandoff reports an error raised on the capture device
func (s *Server) handleFailHandoff(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	var req struct {
		Error string `json:"error"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxScanRequestSize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if err := s.relay.Abort(token, req.Error); err != nil {
		writeError(w, http.StatusNotFound, "Handoff not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(session.StatusFailed),
	})
}

// handleGetImage returns a scanner output file, as JPEG or as Base64 with ?format=base64
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.storage.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	if r.URL.Query().Get("format") == "base64" {
		writeJSON(w, http.StatusOK, map[string]string{
			"data": base64.StdEncoding.EncodeToString(data),
		})
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// handleDeleteImage removes a scanner output file
func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.storage.Delete(name); err != nil {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListSessions returns the history of finished scans
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.ListSessions()
	if err != nil {
		slog.Error("Error listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Ensure we always return an array, not nil
	if records == nil {
		records = []*history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetSession returns one finished scan
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	record, err := s.history.GetSession(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}
