package transitboards

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/theoremus-urban-solutions/transit-boards/watch"
)

type apiHandler struct {
	coord *Coordinator
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func watchStatus(err error) int {
	switch {
	case errors.Is(err, watch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, watch.ErrTooMany):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":                "ok",
		"latest_realtime_epoch": h.coord.Merger().LastSuccess().Unix(),
	}
	if h.coord.Merger().LastSuccess().IsZero() {
		resp["latest_realtime_epoch"] = 0
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *apiHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Status(time.Now()))
}

func (h *apiHandler) listFeeds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.store.ListCached())
}

func (h *apiHandler) activateFeed(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	ver, err := h.coord.ForceVersion(version)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ver)
}

func (h *apiHandler) refreshStatic(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.RefreshStatic(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.coord.Status(time.Now()))
}

func (h *apiHandler) refreshRealtime(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.RefreshRealtime(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.coord.Status(time.Now()))
}

func (h *apiHandler) listWatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.registry.List())
}

func (h *apiHandler) createWatch(w http.ResponseWriter, r *http.Request) {
	var def watch.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	created, err := h.coord.registry.Add(def)
	if err != nil {
		writeError(w, watchStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *apiHandler) getWatch(w http.ResponseWriter, r *http.Request) {
	d, ok := h.coord.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "watch not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type watchPatchBody struct {
	Name         *string                   `json:"name,omitempty"`
	Enabled      *bool                     `json:"enabled,omitempty"`
	OD           *watch.ODConfig           `json:"od,omitempty"`
	Departure    *watch.DepartureConfig    `json:"departure,omitempty"`
	StationQuery *watch.StationQueryConfig `json:"station_query,omitempty"`
	Nearby       *watch.NearbyConfig       `json:"nearby,omitempty"`
}

func (h *apiHandler) updateWatch(w http.ResponseWriter, r *http.Request) {
	var body watchPatchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	updated, err := h.coord.registry.Update(chi.URLParam(r, "id"), watch.Patch{
		Name:         body.Name,
		Enabled:      body.Enabled,
		OD:           body.OD,
		Departure:    body.Departure,
		StationQuery: body.StationQuery,
		Nearby:       body.Nearby,
	})
	if err != nil {
		writeError(w, watchStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *apiHandler) deleteWatch(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.registry.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, watchStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) duplicateWatch(w http.ResponseWriter, r *http.Request) {
	d, err := h.coord.registry.Duplicate(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, watchStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *apiHandler) watchBoard(w http.ResponseWriter, r *http.Request) {
	res, err := h.coord.Board(chi.URLParam(r, "id"), time.Now())
	if err != nil {
		writeError(w, watchStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func queryFloat(r *http.Request, name string) float64 {
	f, _ := strconv.ParseFloat(r.URL.Query().Get(name), 64)
	return f
}

func queryList(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Ad-hoc boards: the same evaluator paths as saved watches, parameterized
// by query string.

func (h *apiHandler) boardOD(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	res := h.coord.Evaluate(watch.Definition{
		Name: "adhoc",
		Type: watch.TypeOD,
		OD: &watch.ODConfig{
			FromQuery:     q.Get("from"),
			ToQuery:       q.Get("to"),
			WindowMinutes: queryInt(r, "window"),
			Limit:         queryInt(r, "limit"),
			Modes:         queryList(r, "modes"),
			Routes:        queryList(r, "routes"),
			Direction:     q.Get("direction"),
		},
	}, time.Now())
	writeJSON(w, http.StatusOK, res)
}

func (h *apiHandler) boardStation(w http.ResponseWriter, r *http.Request) {
	queries := queryList(r, "q")
	if len(queries) == 0 {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	res := h.coord.Evaluate(watch.Definition{
		Name: "adhoc",
		Type: watch.TypeStationQuery,
		StationQuery: &watch.StationQueryConfig{
			Queries:       queries,
			WindowMinutes: queryInt(r, "window"),
			LimitPerStop:  queryInt(r, "limit"),
			MaxStops:      queryInt(r, "max_stops"),
			Modes:         queryList(r, "modes"),
			Routes:        queryList(r, "routes"),
			Direction:     r.URL.Query().Get("direction"),
		},
	}, time.Now())
	writeJSON(w, http.StatusOK, res)
}

func (h *apiHandler) boardNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("lat") == "" || q.Get("lon") == "" {
		writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	res := h.coord.Evaluate(watch.Definition{
		Name: "adhoc",
		Type: watch.TypeNearby,
		Nearby: &watch.NearbyConfig{
			Lat:           queryFloat(r, "lat"),
			Lon:           queryFloat(r, "lon"),
			RadiusMeters:  queryFloat(r, "radius"),
			WindowMinutes: queryInt(r, "window"),
			LimitPerStop:  queryInt(r, "limit"),
			MaxStops:      queryInt(r, "max_stops"),
			Modes:         queryList(r, "modes"),
		},
	}, time.Now())
	writeJSON(w, http.StatusOK, res)
}
