package mockserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"argus/cmd/internal/api"
	"argus/cmd/internal/auth/transport"
)

func newAPIClient(t *testing.T, ts *httptest.Server, user, pass string) *api.Client {
	t.Helper()
	tr, err := transport.New(ts.URL+"/api/v1", transport.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	tr.SetCredential(loginToken(t, ts, user, pass))
	return api.New(tr)
}

func TestSessions_Lifecycle(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t, testConfig())
	c := newAPIClient(t, ts, "operator", "operator123")
	ctx := context.Background()

	owner := "operator"
	sess, err := c.CreateSession(ctx, api.SessionCreate{UserID: &owner})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Status != api.SessionIdle || sess.Config.YOLOModel != "yolov8n.pt" {
		t.Fatalf("created=%+v", sess)
	}
	if sess.CreatedAt.IsZero() {
		t.Fatalf("missing created_at")
	}

	_, err = c.StartDetection(ctx, sess.SessionID)
	if transport.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("start without roi err=%v", err)
	}
	var rf *transport.RequestFailed
	if !errors.As(err, &rf) || !strings.HasPrefix(rf.ServerMessage, "No ROI regions defined") {
		t.Fatalf("server message err=%v", err)
	}

	roi := api.ROIRegion{ID: "bed-1", Points: [][]int{{0, 0}, {10, 0}, {10, 10}}, Enabled: true}
	sess, err = c.AddROI(ctx, sess.SessionID, roi)
	if err != nil {
		t.Fatalf("AddROI: %v", err)
	}
	if len(sess.ROIRegions) != 1 || sess.ROIRegions[0].Type != "polygon" {
		t.Fatalf("rois=%+v", sess.ROIRegions)
	}
	if _, err := c.AddROI(ctx, sess.SessionID, roi); transport.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("duplicate roi err=%v", err)
	}

	sess, err = c.StartDetection(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("StartDetection: %v", err)
	}
	if sess.Status != api.SessionDetecting {
		t.Fatalf("status=%s", sess.Status)
	}

	for i := 0; i < 5; i++ {
		if _, ok := s.sessions.simulate(sess.SessionID, time.Now()); !ok {
			t.Fatalf("simulate: session vanished")
		}
	}
	stats, err := c.Statistics(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	counts := stats.ROIStats["bed-1"]
	if counts["present"]+counts["absent"] != 5 {
		t.Fatalf("roi stats=%+v", counts)
	}
	if stats.TotalDetections != counts["present"] {
		t.Fatalf("total=%d present=%d", stats.TotalDetections, counts["present"])
	}

	results, err := c.Results(ctx, sess.SessionID, api.ResultsQuery{Limit: 3})
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 3 || results[0].ROIID != "bed-1" {
		t.Fatalf("results=%+v", results)
	}

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Sessions != 1 || health.ActiveDetections != 1 {
		t.Fatalf("health=%+v", health)
	}

	sess, err = c.ResetStatistics(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("ResetStatistics: %v", err)
	}
	if sess.Statistics.TotalDetections != 0 || len(sess.Statistics.ROIStats) != 0 {
		t.Fatalf("stats after reset=%+v", sess.Statistics)
	}

	if sess, err = c.StopDetection(ctx, sess.SessionID); err != nil || sess.Status != api.SessionStopped {
		t.Fatalf("StopDetection: %v status=%s", err, sess.Status)
	}
	if sess, err = c.RemoveROI(ctx, sess.SessionID, "bed-1"); err != nil || len(sess.ROIRegions) != 0 {
		t.Fatalf("RemoveROI: %v rois=%d", err, len(sess.ROIRegions))
	}

	list, err := c.ListSessions(ctx, "operator")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListSessions: %v len=%d", err, len(list))
	}
	if list, _ := c.ListSessions(ctx, "someone-else"); len(list) != 0 {
		t.Fatalf("owner filter returned %d", len(list))
	}

	if err := c.DeleteSession(ctx, sess.SessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	_, err = c.GetSession(ctx, sess.SessionID)
	if transport.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("get deleted err=%v", err)
	}
	if !errors.As(err, &rf) || rf.ServerMessage != "Session "+sess.SessionID+" not found" {
		t.Fatalf("not found message err=%v", err)
	}
}

func TestSessions_UpdateValidates(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, testConfig())
	c := newAPIClient(t, ts, "admin", "admin123")
	ctx := context.Background()

	sess, err := c.CreateSession(ctx, api.SessionCreate{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	paused := api.SessionPaused
	cfg := api.DefaultDetectionConfig()
	cfg.ConfidenceThreshold = 0.8
	got, err := c.UpdateSession(ctx, sess.SessionID, api.SessionUpdate{Status: &paused, Config: &cfg})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if got.Status != api.SessionPaused || got.Config.ConfidenceThreshold != 0.8 {
		t.Fatalf("updated=%+v", got)
	}
	if !got.UpdatedAt.After(sess.CreatedAt.Time) && !got.UpdatedAt.Equal(sess.CreatedAt.Time) {
		t.Fatalf("updated_at went backwards")
	}
}

func TestDevices_Lifecycle(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, testConfig())
	c := newAPIClient(t, ts, "admin", "admin123")
	ctx := context.Background()

	d, err := c.RegisterDevice(ctx, api.DeviceCreate{
		Name:       "ward-3",
		DeviceType: api.DeviceJetsonOrinNano,
		IPAddress:  "10.0.0.7",
	})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if d.Port != 8000 || d.Status != api.DeviceOffline || d.Tags == nil {
		t.Fatalf("registered=%+v", d)
	}

	ack, err := c.SendHeartbeat(ctx, d.DeviceID, api.DeviceHeartbeat{
		Status: api.DeviceOnline,
		Stats:  &api.DeviceStats{DeviceID: d.DeviceID, CPUUsage: 12.5, MemoryUsage: 40},
	})
	if err != nil {
		t.Fatalf("SendHeartbeat: %v", err)
	}
	if ack.Message != "Heartbeat received" {
		t.Fatalf("ack=%+v", ack)
	}

	got, err := c.GetDevice(ctx, d.DeviceID)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Status != api.DeviceOnline || got.LastHeartbeat == nil {
		t.Fatalf("after heartbeat=%+v", got)
	}

	hist, err := c.DeviceStatsHistory(ctx, d.DeviceID, 0)
	if err != nil || len(hist) != 1 || hist[0].CPUUsage != 12.5 {
		t.Fatalf("history=%+v err=%v", hist, err)
	}

	sum, err := c.DeviceStatusSummary(ctx)
	if err != nil {
		t.Fatalf("DeviceStatusSummary: %v", err)
	}
	if sum.Total != 1 || sum.Online != 1 {
		t.Fatalf("summary=%+v", sum)
	}

	online, err := c.ListDevices(ctx, api.DeviceOnline)
	if err != nil || len(online) != 1 {
		t.Fatalf("ListDevices online: %v len=%d", err, len(online))
	}
	if busy, _ := c.ListDevices(ctx, api.DeviceBusy); len(busy) != 0 {
		t.Fatalf("busy=%d", len(busy))
	}

	loc := "ICU"
	got, err = c.UpdateDevice(ctx, d.DeviceID, api.DeviceUpdate{Location: &loc, Tags: []string{"icu"}})
	if err != nil || got.Location == nil || *got.Location != "ICU" || len(got.Tags) != 1 {
		t.Fatalf("UpdateDevice: %v %+v", err, got)
	}

	if err := c.DeleteDevice(ctx, d.DeviceID); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	if _, err := c.GetDevice(ctx, d.DeviceID); transport.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("get deleted err=%v", err)
	}
}

func TestDevices_HeartbeatIDMismatch(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, testConfig())
	token := loginToken(t, ts, "admin", "admin123")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/devices/abc/heartbeat",
		strings.NewReader(`{"device_id":"xyz","status":"online"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestFailureWindow(t *testing.T) {
	t.Parallel()
	f := newFailureWindow(2, time.Minute)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	f.Record("a", t0)
	if blocked, _ := f.Blocked("a", t0); blocked {
		t.Fatalf("blocked after one failure")
	}
	f.Record("a", t0.Add(10*time.Second))
	blocked, retry := f.Blocked("a", t0.Add(20*time.Second))
	if !blocked || retry != 40*time.Second {
		t.Fatalf("blocked=%v retry=%s", blocked, retry)
	}
	if blocked, _ := f.Blocked("a", t0.Add(61*time.Second)); blocked {
		t.Fatalf("still blocked after the window slid")
	}
	f.Record("b", t0)
	f.Record("b", t0)
	f.Reset("b")
	if blocked, _ := f.Blocked("b", t0); blocked {
		t.Fatalf("blocked after reset")
	}

	var disabled *failureWindow
	disabled.Record("x", t0)
	if blocked, _ := disabled.Blocked("x", t0); blocked {
		t.Fatalf("nil window blocked")
	}
}
