package workorders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/lineside/internal/httputil"
)

const defaultPageSize = 25

type Handlers struct {
	reader Reader
	logger *slog.Logger
}

func NewHandlers(reader Reader, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{reader: reader, logger: logger}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/workorders").Subrouter()
	api.HandleFunc("", h.handleSearch).Methods("GET")
	api.HandleFunc("/{id}", h.handleGet).Methods("GET")
}

func (h *Handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := parsePageRequest(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.reader.Search(r.Context(), req)
	if errors.Is(err, ErrInvalidPageSize) {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("work order search failed", "error", err)
		httputil.WriteProblem(w, http.StatusBadGateway, "work orders are unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wo, err := h.reader.Get(r.Context(), id)
	if errors.Is(err, ErrInvalidID) {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("work order lookup failed", "id", id, "error", err)
		httputil.WriteProblem(w, http.StatusBadGateway, "work orders are unavailable")
		return
	}
	if wo == nil {
		httputil.WriteError(w, http.StatusNotFound, "work order not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wo)
}

func parsePageRequest(r *http.Request) (PageRequest, error) {
	q := r.URL.Query()
	req := PageRequest{
		Page:     1,
		PageSize: defaultPageSize,
		Search:   q.Get("search"),
		Status:   q.Get("status"),
		Line:     q.Get("line"),
		PartNo:   q.Get("partNo"),
	}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.New("page must be an integer")
		}
		req.Page = n
	}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.New("pageSize must be an integer")
		}
		req.PageSize = n
	}

	var err error
	if req.FromUTC, err = parseTime(q.Get("fromUtc"), "fromUtc"); err != nil {
		return req, err
	}
	if req.ToUTC, err = parseTime(q.Get("toUtc"), "toUtc"); err != nil {
		return req, err
	}
	return req, nil
}

func parseTime(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, errors.New(name + " must be an RFC 3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}
