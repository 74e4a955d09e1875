package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/nodelink-core/internal/bridge"
)

// invokeRequest is the body of POST /devices/{id}/functions/{fid}.
type invokeRequest struct {
	Args []any `json:"args"`
}

// handleListDevices returns every registered device, ordered by ID.
//
// Query parameters:
//   - liveness: only devices in this liveness state (active, recent, dead, unknown)
//   - investigating: "true" for devices with an investigation in progress
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	liveness := r.URL.Query().Get("liveness")
	investigating := r.URL.Query().Get("investigating") == "true"

	snaps := s.registry.List()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })

	devices := make([]bridge.DeviceState, 0, len(snaps))
	for _, snap := range snaps {
		if liveness != "" && snap.Liveness.String() != liveness {
			continue
		}
		if investigating && !snap.Investigating {
			continue
		}
		devices = append(devices, bridge.NewDeviceState(snap))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := bridge.ParseDeviceID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	snap, err := s.registry.Get(id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bridge.NewDeviceState(snap))
}

// handleDeleteDevice removes a device from the registry.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := bridge.ParseDeviceID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.registry.Remove(id); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.logger.Info("device removed via API", "device", bridge.FormatDeviceID(id))
	w.WriteHeader(http.StatusNoContent)
}

// handleInvestigate queues a full investigation. The walk runs in the
// background; progress is reported through events.
func (s *Server) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	id, err := bridge.ParseDeviceID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.registry.Investigate(id); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": bridge.FormatDeviceID(id),
		"queued":    true,
		"queue":     s.registry.QueueLength(),
	})
}

// handleInvoke calls a function on a device and waits for its result.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	id, err := bridge.ParseDeviceID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	fid, err := strconv.ParseUint(chi.URLParam(r, "fid"), 10, 8)
	if err != nil {
		writeBadRequest(w, "function id must be 0-255")
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.registry.InvokeFunction(r.Context(), id, byte(fid), req.Args)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
