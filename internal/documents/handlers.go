package documents

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/lineside/internal/events"
	"github.com/darkden-lab/lineside/internal/httputil"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

type folderResponse struct {
	Line         string          `json:"line"`
	PathSegments []string        `json:"pathSegments"`
	Folders      []string        `json:"folders"`
	Files        []string        `json:"files"`
	Documents    []DocumentGroup `json:"documents"`
}

type Handlers struct {
	library *Library
	engine  *Engine
	events  events.Publisher
	logger  *slog.Logger
}

func NewHandlers(library *Library, engine *Engine, publisher events.Publisher, logger *slog.Logger) *Handlers {
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{library: library, engine: engine, events: publisher, logger: logger}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/folders", h.handleLines).Methods("GET")
	api.HandleFunc("/folders/{line}", h.handleFolder).Methods("GET")
	api.HandleFunc("/folders/{line}/upload", h.handleUpload).Methods("POST")
	api.HandleFunc("/status/{line}", h.handleStatus).Methods("GET")

	r.HandleFunc("/pdf/{line}/{file}", h.handlePDF).Methods("GET", "HEAD")
}

// writeErr maps engine errors onto responses. Validation errors are client
// errors; anything else is logged and reported as a problem.
func (h *Handlers) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateFile):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrTooLarge):
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
	case IsValidationError(err):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("document request failed",
			"method", r.Method, "path", r.URL.Path, "folder", r.URL.Query().Get("path"), "error", err)
		httputil.WriteProblem(w, http.StatusInternalServerError, "the folder could not be processed")
	}
}

func (h *Handlers) handleLines(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.library.Lines())
}

func (h *Handlers) handleFolder(w http.ResponseWriter, r *http.Request) {
	line := mux.Vars(r)["line"]
	canonical, _, err := h.library.LineDir(line)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	dir, segments, err := h.library.Folder(line, r.URL.Query().Get("path"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	listing, err := h.engine.List(r.Context(), dir)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, folderResponse{
		Line:         canonical,
		PathSegments: segments,
		Folders:      listing.Folders,
		Files:        listing.Files,
		Documents:    listing.Documents,
	})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, dir, err := h.library.LineDir(mux.Vars(r)["line"])
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	st, err := h.engine.Status(r.Context(), dir)
	if err != nil {
		// Only cancellation fails the walk; the client has gone away.
		h.logger.Debug("status walk cancelled", "line", mux.Vars(r)["line"], "error", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	line := mux.Vars(r)["line"]
	canonical, _, err := h.library.LineDir(line)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	rel := r.URL.Query().Get("path")
	dir, segments, err := h.library.Folder(line, rel)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	// Leave room for the multipart envelope and the comment field.
	r.Body = http.MaxBytesReader(w, r.Body, h.engine.MaxUploadBytes()+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeErr(w, r, ErrTooLarge)
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Size > h.engine.MaxUploadBytes() {
		h.writeErr(w, r, ErrTooLarge)
		return
	}

	result, err := h.engine.Upload(r.Context(), dir, UploadRequest{
		FileName: header.Filename,
		Comment:  r.FormValue("comment"),
		Content:  file,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	event := events.NewEvent(events.TopicDocumentUploaded, canonical,
		result.StoredFileName+" uploaded", map[string]any{
			"line":     canonical,
			"path":     strings.Join(segments, "/"),
			"document": result,
		})
	if err := h.events.Publish(events.TopicDocumentUploaded, event); err != nil {
		h.logger.Warn("failed to publish upload event", "line", canonical, "error", err)
	}

	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handlers) handlePDF(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := h.library.File(vars["line"], r.URL.Query().Get("path"), vars["file"])
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	f, err := os.Open(p)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
