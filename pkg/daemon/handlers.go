package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/modoterra/logcap/pkg/core"
	"github.com/modoterra/logcap/pkg/structured"
	"github.com/modoterra/logcap/pkg/transport/httpapi"
)

func (d *Daemon) handleStart(p core.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := d.controllers[p].Start(r.Context())
		if err != nil {
			d.logger.Error("start capture", "platform", string(p), "err", err)
			http.Error(w, fmt.Sprintf("Failed to start %s capture: %v", p, err), http.StatusInternalServerError)
			return
		}

		msg := httpapi.MessagesFor(p).Started
		if !res.Started {
			msg = httpapi.MessagesFor(p).AlreadyRunning
		}
		writeJSON(w, httpapi.StartResponse{
			Message:   msg,
			SessionID: res.Session.ID,
			Started:   res.Started,
		})
	}
}

func (d *Daemon) handleStop(p core.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		res, err := d.controllers[p].Stop(r.Context(), id)
		switch {
		case errors.Is(err, ErrInvalidSession), errors.Is(err, structured.ErrNotFound):
			http.Error(w, httpapi.MessagesFor(p).NoActive, http.StatusNotFound)
			return
		case err != nil:
			d.logger.Error("stop capture", "platform", string(p), "session", id, "err", err)
			http.Error(w, fmt.Sprintf("Failed to stop %s capture: %v", p, err), http.StatusInternalServerError)
			return
		}

		records := res.Records
		if records == nil {
			records = []core.Record{}
		}
		writeJSON(w, records)
	}
}

func (d *Daemon) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, httpapi.MsgNotFound, http.StatusNotFound)
		return
	}

	for _, s := range d.registry.ArtifactPaths(id) {
		f, err := os.Open(s.StructuredPath)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			d.logger.Error("open structured log", "session", id, "path", s.StructuredPath, "err", err)
			http.Error(w, "Failed to read structured log.", http.StatusInternalServerError)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(s.StructuredPath)))
		if _, err := io.Copy(w, f); err != nil {
			d.logger.Warn("download interrupted", "session", id, "err", err)
		}
		return
	}

	http.Error(w, httpapi.MsgNotFound, http.StatusNotFound)
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := httpapi.HealthResponse{OK: true, Active: make(map[string]string)}
	for p, c := range d.controllers {
		if s, ok := c.Active(); ok {
			resp.Active[string(p)] = s.ID
		}
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
