package plugin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/lineside/internal/httputil"
	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

// PluginInfo is the API view of a loaded plugin.
type PluginInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Folder    string    `json:"folder"`
	EntryType string    `json:"entryType"`
	RouteBase string    `json:"routeBase,omitempty"`
	UI        bool      `json:"ui"`
	LoadedAt  time.Time `json:"loadedAt"`
}

type pluginList struct {
	Plugins  []PluginInfo `json:"plugins"`
	Skipped  []Skip       `json:"skipped"`
	LoadedAt time.Time    `json:"loadedAt"`
}

type Handlers struct {
	host  *Host
	store *Store
}

// NewHandlers creates the plugin API handlers. store may be nil, in which
// case the history endpoint returns an empty list.
func NewHandlers(host *Host, store *Store) *Handlers {
	return &Handlers{host: host, store: store}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/plugins").Subrouter()
	api.HandleFunc("", h.handleList).Methods("GET")
	api.HandleFunc("/reload", h.handleReload).Methods("POST")
	api.HandleFunc("/history", h.handleHistory).Methods("GET")
	api.HandleFunc("/{id}/entry", h.handleEntry).Methods("GET")
	api.HandleFunc("/{id}/execute", h.handleExecute).Methods("POST")

	r.HandleFunc("/plugins/{id}", h.handleRender).Methods("GET")
}

func toInfo(reg *Registration) PluginInfo {
	_, ui := reg.UI()
	return PluginInfo{
		ID:        reg.Manifest.ID,
		Name:      reg.Manifest.Name,
		Version:   reg.Manifest.Version,
		Folder:    reg.Folder,
		EntryType: reg.Manifest.EntryType,
		RouteBase: reg.Manifest.RouteBase,
		UI:        ui,
		LoadedAt:  reg.LoadedAt,
	}
}

func (h *Handlers) list() pluginList {
	reg := h.host.Registry()
	out := pluginList{
		Plugins:  []PluginInfo{},
		Skipped:  reg.Skipped(),
		LoadedAt: reg.LoadedAt(),
	}
	for _, r := range reg.Registrations() {
		out.Plugins = append(out.Plugins, toInfo(r))
	}
	if out.Skipped == nil {
		out.Skipped = []Skip{}
	}
	return out
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.list())
}

func (h *Handlers) handleReload(w http.ResponseWriter, r *http.Request) {
	if _, err := h.host.Reload(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.list())
}

func (h *Handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		httputil.WriteJSON(w, http.StatusOK, []LoadRecord{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to read plugin load history")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handlers) handleEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ep, ok := h.host.Registry().ResolveEntryType(id)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "plugin entry not found")
		return
	}

	resp := map[string]any{"id": id, "entryType": ep.Name, "renderable": ep.Component != nil}
	if ep.Component != nil {
		attrs := ep.Component.Attributes()
		if attrs == nil {
			attrs = []pluginapi.Attribute{}
		}
		resp["attributes"] = attrs
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.host.Execute(id); err != nil {
		if errors.Is(err, ErrPluginNotFound) {
			httputil.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handlers) handleRender(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ep, ok := h.host.Registry().ResolveEntryType(id)
	if !ok || ep.Component == nil {
		http.NotFound(w, r)
		return
	}

	params := make(map[string]any, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := guard(func() error { return ep.Component.Render(r.Context(), w, params) }); err != nil {
		h.host.logger.Error("plugin render failed", "plugin", id, "error", err)
		http.Error(w, "plugin render failed", http.StatusInternalServerError)
	}
}
