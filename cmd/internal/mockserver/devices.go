package mockserver

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"argus/cmd/identity/ids"
	"argus/cmd/internal/api"

	"github.com/gorilla/mux"
)

const maxStatsPerDevice = 1000

var errDeviceNotFound = errors.New("device not found")

// deviceStore holds registered devices and their resource samples.
type deviceStore struct {
	mu      sync.Mutex
	devices map[string]*api.Device
	stats   map[string][]api.DeviceStats
}

func newDeviceStore() *deviceStore {
	return &deviceStore{
		devices: make(map[string]*api.Device),
		stats:   make(map[string][]api.DeviceStats),
	}
}

func cloneDevice(d *api.Device) api.Device {
	out := *d
	out.Tags = slices.Clone(d.Tags)
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if d.LastHeartbeat != nil {
		hb := *d.LastHeartbeat
		out.LastHeartbeat = &hb
	}
	return out
}

func (st *deviceStore) register(in api.DeviceCreate, now time.Time) (api.Device, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return api.Device{}, err
	}
	if in.Port == 0 {
		in.Port = 8000
	}
	d := &api.Device{
		DeviceID:    id,
		Name:        in.Name,
		DeviceType:  in.DeviceType,
		IPAddress:   in.IPAddress,
		Port:        in.Port,
		Status:      api.DeviceOffline,
		Description: in.Description,
		Location:    in.Location,
		Owner:       in.Owner,
		Tags:        slices.Clone(in.Tags),
		CreatedAt:   api.Time{Time: now},
		UpdatedAt:   api.Time{Time: now},
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.devices[id] = d
	return cloneDevice(d), nil
}

func (st *deviceStore) list(status api.DeviceStatus) []api.Device {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]api.Device, 0, len(st.devices))
	for _, id := range slices.Sorted(maps.Keys(st.devices)) {
		d := st.devices[id]
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, cloneDevice(d))
	}
	return out
}

func (st *deviceStore) get(id string) (api.Device, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	d, ok := st.devices[id]
	if !ok {
		return api.Device{}, errDeviceNotFound
	}
	return cloneDevice(d), nil
}

func (st *deviceStore) mutate(id string, now time.Time, fn func(*api.Device)) (api.Device, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	d, ok := st.devices[id]
	if !ok {
		return api.Device{}, errDeviceNotFound
	}
	fn(d)
	d.UpdatedAt = api.Time{Time: now}
	return cloneDevice(d), nil
}

func (st *deviceStore) remove(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.devices[id]; !ok {
		return errDeviceNotFound
	}
	delete(st.devices, id)
	delete(st.stats, id)
	return nil
}

// heartbeat records liveness and an optional sample.
func (st *deviceStore) heartbeat(id string, hb api.DeviceHeartbeat, now time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	d, ok := st.devices[id]
	if !ok {
		return errDeviceNotFound
	}
	at := now
	if hb.Timestamp != nil && !hb.Timestamp.IsZero() {
		at = hb.Timestamp.Time
	}
	d.Status = hb.Status
	d.LastHeartbeat = &api.Time{Time: at}
	d.UpdatedAt = api.Time{Time: now}

	if hb.Stats != nil {
		sample := *hb.Stats
		sample.DeviceID = id
		if sample.Timestamp.IsZero() {
			sample.Timestamp = api.Time{Time: at}
		}
		rs := append(st.stats[id], sample)
		if len(rs) > maxStatsPerDevice {
			rs = rs[len(rs)-maxStatsPerDevice:]
		}
		st.stats[id] = rs
	}
	return nil
}

func (st *deviceStore) history(id string, limit int) ([]api.DeviceStats, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.devices[id]; !ok {
		return nil, errDeviceNotFound
	}
	rs := st.stats[id]
	if len(rs) > limit {
		rs = rs[len(rs)-limit:]
	}
	return append([]api.DeviceStats{}, rs...), nil
}

func (st *deviceStore) summary() api.StatusSummary {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out api.StatusSummary
	for _, d := range st.devices {
		out.Total++
		switch d.Status {
		case api.DeviceOnline:
			out.Online++
		case api.DeviceOffline:
			out.Offline++
		case api.DeviceBusy:
			out.Busy++
		case api.DeviceError:
			out.Error++
		case api.DeviceMaintenance:
			out.Maintenance++
		}
	}
	return out
}

// ---- handlers ----

func writeDeviceErr(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, errDeviceNotFound) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Device %s not found", id))
		return
	}
	writeDetail(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request, _ principal) {
	status := api.DeviceStatus(r.URL.Query().Get("status_filter"))
	writeJSON(w, http.StatusOK, s.devices.list(status))
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request, _ principal) {
	var in api.DeviceCreate
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	out, err := s.devices.register(in, s.now().UTC())
	if err != nil {
		writeDeviceErr(w, "", err)
		return
	}
	s.log.Info("mock.devices.registered", "device_id", out.DeviceID, "name", out.Name)
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	out, err := s.devices.get(id)
	if err != nil {
		writeDeviceErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	var in api.DeviceUpdate
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	out, err := s.devices.mutate(id, s.now().UTC(), func(d *api.Device) {
		if in.Name != nil {
			d.Name = *in.Name
		}
		if in.Status != nil {
			d.Status = *in.Status
		}
		if in.Description != nil {
			d.Description = in.Description
		}
		if in.Location != nil {
			d.Location = in.Location
		}
		if in.Owner != nil {
			d.Owner = in.Owner
		}
		if in.Tags != nil {
			d.Tags = in.Tags
		}
	})
	if err != nil {
		writeDeviceErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	if err := s.devices.remove(id); err != nil {
		writeDeviceErr(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeviceStats(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	limit, ok := queryLimit(r, defaultResultsLimit)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "limit must be a non-negative integer")
		return
	}
	out, err := s.devices.history(id, limit)
	if err != nil {
		writeDeviceErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeviceSummary(w http.ResponseWriter, _ *http.Request, _ principal) {
	writeJSON(w, http.StatusOK, s.devices.summary())
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	var hb api.DeviceHeartbeat
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &hb); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if hb.DeviceID != id {
		writeDetail(w, http.StatusBadRequest, "Device ID mismatch")
		return
	}
	if err := s.validate.Struct(hb); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.devices.heartbeat(id, hb, s.now().UTC()); err != nil {
		writeDeviceErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Heartbeat received"})
}
