package storage

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// Handler exposes the storage browse endpoints: /dvr/storage/top,
// /yearly, /monthly, /daily, /download, plus the raw file mirror used by
// the video/thumbnail <video>/<img> tags the UI renders from the Daily
// entries.
type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) Top(w http.ResponseWriter, r *http.Request) {
	years, err := h.mgr.Top()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if years == nil {
		years = []string{}
	}
	writeJSON(w, years)
}

func (h *Handler) Yearly(w http.ResponseWriter, r *http.Request) {
	year := r.URL.Query().Get("year")
	if year == "" {
		http.Error(w, "missing year", http.StatusBadRequest)
		return
	}
	months, err := h.mgr.Yearly(year)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, months)
}

func (h *Handler) Monthly(w http.ResponseWriter, r *http.Request) {
	year := r.URL.Query().Get("year")
	month := r.URL.Query().Get("month")
	if year == "" || month == "" {
		http.Error(w, "missing year or month", http.StatusBadRequest)
		return
	}
	days, err := h.mgr.Monthly(year, month)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, days)
}

func (h *Handler) Daily(w http.ResponseWriter, r *http.Request) {
	year := r.URL.Query().Get("year")
	month := r.URL.Query().Get("month")
	day := r.URL.Query().Get("day")
	if year == "" || month == "" || day == "" {
		http.Error(w, "missing year, month or day", http.StatusBadRequest)
		return
	}
	entries, err := h.mgr.Daily(year, month, day)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "no such day", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, entries)
}

// Videos mirrors the archive root as a raw static file tree under
// /dvr/storage/videos/..., the target of the Daily entries' video/image
// URLs. http.FileServer handles Range requests (and If-Range/conditional
// GETs) on its own.
func (h *Handler) Videos() http.Handler {
	return http.StripPrefix("/dvr/storage/videos/", http.FileServer(http.Dir(h.mgr.Root())))
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	// "+" separates the hour bounds and the cam tokens; keep it literal
	// instead of letting standard query decoding turn it into a space.
	q, err := url.ParseQuery(strings.ReplaceAll(r.URL.RawQuery, "+", "%2B"))
	if err != nil {
		http.Error(w, "bad query", http.StatusBadRequest)
		return
	}
	year, month, day := q.Get("year"), q.Get("month"), q.Get("day")
	if year == "" || month == "" || day == "" {
		http.Error(w, "missing year, month or day", http.StatusBadRequest)
		return
	}
	f, err := h.mgr.Download(year, month, day, q.Get("hour"), q.Get("cam"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "no such day", http.StatusNotFound)
			return
		}
		// errNoMatch, zip-build failures and stream failures all map
		// to a 5xx answer; nothing here is the caller's fault.
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+year+month+day+".zip\"")
	if _, err := io.Copy(w, f); err != nil {
		// Headers are already sent; nothing left to do but log upstream.
		return
	}
}
