package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/inputemu-core/internal/audit"
	"github.com/nerrad567/inputemu-core/internal/device"
	"github.com/nerrad567/inputemu-core/internal/ipc"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// DeviceList is the body of GET /devices.
type DeviceList struct {
	Devices []ipc.DeviceInfo `json:"devices"`
	Count   int              `json:"count"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version}
	status := http.StatusOK

	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp.Components = make(map[string]string, len(s.checks))
		for name, c := range s.checks {
			if err := c.HealthCheck(ctx); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	infos := s.devices.Devices()
	if r.URL.Query().Get("active") == "true" {
		infos = slices.DeleteFunc(infos, func(i device.Info) bool { return !i.Active() })
	}

	out := DeviceList{Devices: make([]ipc.DeviceInfo, 0, len(infos))}
	for _, info := range infos {
		out.Devices = append(out.Devices, ipc.NewDeviceInfo(info))
	}
	out.Count = len(out.Devices)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 32)
	if err != nil {
		writeBadRequest(w, "device index must be an unsigned integer")
		return
	}

	info, err := s.devices.DeviceInfo(uint32(index))
	switch {
	case errors.Is(err, device.ErrInvalidID):
		writeNotFound(w, "no active device at index "+strconv.FormatUint(index, 10))
		return
	case err != nil:
		s.logger.Error("device lookup failed", "index", index, "error", err)
		writeInternalError(w, "device lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, ipc.NewDeviceInfo(info))
}

func (s *Server) handleMotion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ipc.NewMotionState(s.motion.Status()))
}

// handleAudit lists control-channel changes. Query parameters: action,
// device, limit, offset.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "control log requires the database")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Action: q.Get("action")}
	if v := q.Get("device"); v != "" {
		index, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			writeBadRequest(w, "device must be an unsigned integer")
			return
		}
		i := uint32(index)
		filter.DeviceIndex = &i
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing control log failed", "error", err)
		writeInternalError(w, "listing control log failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
