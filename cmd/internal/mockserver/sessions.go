package mockserver

import (
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"argus/cmd/identity/ids"
	"argus/cmd/internal/api"
	v1 "argus/shared/contracts/stream/v1"

	"github.com/gorilla/mux"
)

const (
	maxResultsPerSession = 1000
	defaultResultsLimit  = 100
)

var (
	errSessionNotFound = errors.New("session not found")
	errROINotFound     = errors.New("roi not found")
	errROIExists       = errors.New("roi exists")
	errNoROI           = errors.New("no roi")
)

// sessionStore holds detection sessions and their results.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*api.Session
	results  map[string][]api.DetectionResult
	rng      *rand.Rand
}

func newSessionStore(seed uint64) *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*api.Session),
		results:  make(map[string][]api.DetectionResult),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func emptyStatistics() v1.Statistics {
	return v1.Statistics{
		ROIStats:  map[string]map[string]int{},
		FaceStats: map[string]int{},
	}
}

func cloneSession(s *api.Session) api.Session {
	out := *s
	if s.UserID != nil {
		uid := *s.UserID
		out.UserID = &uid
	}
	out.ROIRegions = make([]api.ROIRegion, 0, len(s.ROIRegions))
	for _, r := range s.ROIRegions {
		pts := make([][]int, len(r.Points))
		for i, p := range r.Points {
			pts[i] = slices.Clone(p)
		}
		r.Points = pts
		out.ROIRegions = append(out.ROIRegions, r)
	}
	out.Statistics = emptyStatistics()
	out.Statistics.TotalDetections = s.Statistics.TotalDetections
	for roi, counts := range s.Statistics.ROIStats {
		out.Statistics.ROIStats[roi] = maps.Clone(counts)
	}
	maps.Copy(out.Statistics.FaceStats, s.Statistics.FaceStats)
	return out
}

func (st *sessionStore) create(in api.SessionCreate, now time.Time) (api.Session, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return api.Session{}, err
	}
	cfg := api.DefaultDetectionConfig()
	if in.Config != nil {
		cfg = *in.Config
	}
	s := &api.Session{
		SessionID:  id,
		UserID:     in.UserID,
		Status:     api.SessionIdle,
		Config:     cfg,
		ROIRegions: []api.ROIRegion{},
		Statistics: emptyStatistics(),
		CreatedAt:  api.Time{Time: now},
		UpdatedAt:  api.Time{Time: now},
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[id] = s
	return cloneSession(s), nil
}

// list returns sessions in creation order, optionally filtered by owner.
func (st *sessionStore) list(userID string) []api.Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]api.Session, 0, len(st.sessions))
	for _, id := range slices.Sorted(maps.Keys(st.sessions)) {
		s := st.sessions[id]
		if userID != "" && (s.UserID == nil || *s.UserID != userID) {
			continue
		}
		out = append(out, cloneSession(s))
	}
	return out
}

func (st *sessionStore) get(id string) (api.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return api.Session{}, errSessionNotFound
	}
	return cloneSession(s), nil
}

func (st *sessionStore) exists(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	return ok
}

// mutate applies fn to the stored session and returns a copy of the result.
func (st *sessionStore) mutate(id string, now time.Time, fn func(*api.Session) error) (api.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return api.Session{}, errSessionNotFound
	}
	if err := fn(s); err != nil {
		return api.Session{}, err
	}
	s.UpdatedAt = api.Time{Time: now}
	return cloneSession(s), nil
}

func (st *sessionStore) remove(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return errSessionNotFound
	}
	delete(st.sessions, id)
	delete(st.results, id)
	return nil
}

func (st *sessionStore) counts() (total, detecting int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.sessions {
		if s.Status == api.SessionDetecting {
			detecting++
		}
	}
	return len(st.sessions), detecting
}

func (st *sessionStore) statistics(id string) (v1.Statistics, error) {
	s, err := st.get(id)
	if err != nil {
		return v1.Statistics{}, err
	}
	return s.Statistics, nil
}

// resultsFor returns the newest limit results, oldest first.
func (st *sessionStore) resultsFor(id, roiID string, limit int) ([]api.DetectionResult, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return nil, errSessionNotFound
	}
	out := make([]api.DetectionResult, 0)
	for _, r := range st.results[id] {
		if roiID == "" || r.ROIID == roiID {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// simulate runs one detection pass over the enabled regions of a detecting session.
// It returns the emitted events and whether the session still exists.
func (st *sessionStore) simulate(id string, now time.Time) ([]v1.DetectionEvent, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	if s.Status != api.SessionDetecting {
		return nil, true
	}

	var events []v1.DetectionEvent
	for _, roi := range s.ROIRegions {
		if !roi.Enabled {
			continue
		}
		present := st.rng.Float64() < 0.6
		status := "absent"
		conf := 0.0
		if present {
			status = "present"
			conf = s.Config.ConfidenceThreshold + (1-s.Config.ConfidenceThreshold)*st.rng.Float64()
		}

		res := api.DetectionResult{
			SessionID:      id,
			ROIID:          roi.ID,
			Status:         status,
			PersonDetected: present,
			Confidence:     conf,
			Timestamp:      api.Time{Time: now},
		}
		if present && s.Config.EnableFaceAnalysis {
			eyes := st.rng.Float64() < 0.8
			res.FaceAnalysis = &api.FaceAnalysis{
				FaceDetected: true,
				EyesOpen:     eyes,
				MouthState:   "closed",
				Expression:   map[string]any{"neutral": 1.0},
				Timestamp:    api.Time{Time: now},
			}
			s.Statistics.FaceStats["faces_detected"]++
			if eyes {
				s.Statistics.FaceStats["eyes_open"]++
			}
		}
		if present {
			s.Statistics.TotalDetections++
		}
		counts := s.Statistics.ROIStats[roi.ID]
		if counts == nil {
			counts = map[string]int{}
			s.Statistics.ROIStats[roi.ID] = counts
		}
		counts[status]++

		rs := append(st.results[id], res)
		if len(rs) > maxResultsPerSession {
			rs = rs[len(rs)-maxResultsPerSession:]
		}
		st.results[id] = rs

		events = append(events, v1.DetectionEvent{
			SessionID:      id,
			ROIID:          roi.ID,
			Status:         status,
			PersonDetected: present,
			Confidence:     conf,
			Timestamp:      now.UTC().Format(time.RFC3339Nano),
		})
	}
	return events, true
}

// ---- handlers ----

func (s *Server) writeSessionErr(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, errSessionNotFound):
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Session %s not found", id))
	case errors.Is(err, errROINotFound):
		writeDetail(w, http.StatusNotFound, "ROI region not found")
	case errors.Is(err, errROIExists):
		writeDetail(w, http.StatusBadRequest, "ROI region already exists")
	case errors.Is(err, errNoROI):
		writeDetail(w, http.StatusBadRequest, "No ROI regions defined. Please add at least one ROI region.")
	default:
		s.log.Error("mock.sessions.fail", "session_id", id, "err", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, _ principal) {
	var in api.SessionCreate
	if err := decodeOptionalJSON(w, r, s.cfg.MaxBodyBytes, &in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if in.Config != nil {
		if err := s.validate.Struct(in.Config); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	out, err := s.sessions.create(in, s.now().UTC())
	if err != nil {
		s.writeSessionErr(w, "", err)
		return
	}
	s.log.Info("mock.sessions.created", "session_id", out.SessionID)
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, _ principal) {
	writeJSON(w, http.StatusOK, s.sessions.list(r.URL.Query().Get("user_id")))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	out, err := s.sessions.get(id)
	if err != nil {
		s.writeSessionErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	var in api.SessionUpdate
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	out, err := s.sessions.mutate(id, s.now().UTC(), func(sess *api.Session) error {
		if in.Status != nil {
			sess.Status = *in.Status
		}
		if in.Config != nil {
			sess.Config = *in.Config
		}
		if in.ROIRegions != nil {
			sess.ROIRegions = in.ROIRegions
		}
		return nil
	})
	if err != nil {
		s.writeSessionErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.remove(id); err != nil {
		s.writeSessionErr(w, id, err)
		return
	}
	s.log.Info("mock.sessions.deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddROI(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	var roi api.ROIRegion
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &roi); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if roi.Type == "" {
		roi.Type = "polygon"
	}
	if err := s.validate.Struct(roi); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	out, err := s.sessions.mutate(id, s.now().UTC(), func(sess *api.Session) error {
		for _, existing := range sess.ROIRegions {
			if existing.ID == roi.ID {
				return errROIExists
			}
		}
		sess.ROIRegions = append(sess.ROIRegions, roi)
		return nil
	})
	if err != nil {
		s.writeSessionErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRemoveROI(w http.ResponseWriter, r *http.Request, _ principal) {
	id, roiID := mux.Vars(r)["id"], mux.Vars(r)["roi_id"]
	out, err := s.sessions.mutate(id, s.now().UTC(), func(sess *api.Session) error {
		idx := slices.IndexFunc(sess.ROIRegions, func(x api.ROIRegion) bool { return x.ID == roiID })
		if idx < 0 {
			return errROINotFound
		}
		sess.ROIRegions = slices.Delete(sess.ROIRegions, idx, idx+1)
		delete(sess.Statistics.ROIStats, roiID)
		return nil
	})
	if err != nil {
		s.writeSessionErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartDetection(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	out, err := s.sessions.mutate(id, s.now().UTC(), func(sess *api.Session) error {
		if len(sess.ROIRegions) == 0 {
			return errNoROI
		}
		sess.Status = api.SessionDetecting
		return nil
	})
	if err != nil {
		s.writeSessionErr(w, id, err)
		return
	}
	s.log.Info("mock.detection.started", "session_id", id)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStopDetection(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	out, err := s.sessions.mutate(id, s.now().UTC(), func(sess *api.Session) error {
		sess.Status = api.SessionStopped
		return nil
	})
	if err != nil {
		s.writeSessionErr(w, id, err)
		return
	}
	s.log.Info("mock.detection.stopped", "session_id", id)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	out, err := s.sessions.statistics(id)
	if err != nil {
		s.writeSessionErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResetStatistics(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	out, err := s.sessions.mutate(id, s.now().UTC(), func(sess *api.Session) error {
		sess.Statistics = emptyStatistics()
		return nil
	})
	if err != nil {
		s.writeSessionErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request, _ principal) {
	id := mux.Vars(r)["id"]
	limit, ok := queryLimit(r, defaultResultsLimit)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "limit must be a non-negative integer")
		return
	}
	out, err := s.sessions.resultsFor(id, r.URL.Query().Get("roi_id"), limit)
	if err != nil {
		s.writeSessionErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	total, detecting := s.sessions.counts()
	writeJSON(w, http.StatusOK, api.Health{Status: "healthy", Sessions: total, ActiveDetections: detecting})
}

func queryLimit(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
