package api

import (
	"encoding/json"

	v1 "argus/shared/contracts/stream/v1"
)

// ---- detection sessions ----

// SessionStatus is the lifecycle of a detection session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionDetecting SessionStatus = "detecting"
	SessionPaused    SessionStatus = "paused"
	SessionStopped   SessionStatus = "stopped"
)

// ROIRegion is a region of interest drawn on the camera image.
type ROIRegion struct {
	ID          string  `json:"id" validate:"required,max=64"`
	Description string  `json:"description" validate:"max=200"`
	Type        string  `json:"type" validate:"omitempty,oneof=polygon rectangle"`
	Points      [][]int `json:"points" validate:"min=3,dive,len=2"`
	Enabled     bool    `json:"enabled"`
}

// DetectionConfig tunes the detector of one session.
type DetectionConfig struct {
	YOLOModel           string  `json:"yolo_model,omitempty"`
	CameraSource        int     `json:"camera_source" validate:"gte=0"`
	ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	DetectionInterval   float64 `json:"detection_interval" validate:"gt=0"`
	PresenceThreshold   int     `json:"presence_threshold" validate:"gte=1"`
	AbsenceThreshold    int     `json:"absence_threshold" validate:"gte=1"`
	EnableFaceAnalysis  bool    `json:"enable_face_analysis"`
	FaceAnalysisROIOnly bool    `json:"face_analysis_roi_only"`
}

// DefaultDetectionConfig mirrors the backend defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		YOLOModel:           "yolov8n.pt",
		ConfidenceThreshold: 0.5,
		DetectionInterval:   1.0,
		PresenceThreshold:   5,
		AbsenceThreshold:    3,
		EnableFaceAnalysis:  true,
	}
}

// Session is a detection session as returned by the backend.
type Session struct {
	SessionID  string          `json:"session_id"`
	UserID     *string         `json:"user_id,omitempty"`
	Status     SessionStatus   `json:"status"`
	Config     DetectionConfig `json:"config"`
	ROIRegions []ROIRegion     `json:"roi_regions"`
	Statistics v1.Statistics   `json:"statistics"`
	CreatedAt  Time            `json:"created_at"`
	UpdatedAt  Time            `json:"updated_at"`
}

// SessionCreate is the body of POST /sessions/.
type SessionCreate struct {
	UserID *string          `json:"user_id"`
	Config *DetectionConfig `json:"config,omitempty"`
}

// SessionUpdate is the body of PATCH /sessions/{id}. Nil fields are left unchanged.
type SessionUpdate struct {
	Status     *SessionStatus   `json:"status,omitempty" validate:"omitempty,oneof=idle detecting paused stopped"`
	Config     *DetectionConfig `json:"config,omitempty"`
	ROIRegions []ROIRegion      `json:"roi_regions,omitempty" validate:"omitempty,dive"`
}

// FaceAnalysis is the optional face analysis attached to a detection result.
type FaceAnalysis struct {
	FaceDetected        bool           `json:"face_detected"`
	EyesOpen            bool           `json:"eyes_open"`
	MouthState          string         `json:"mouth_state"`
	Expression          map[string]any `json:"expression"`
	HasMaskOrVentilator bool           `json:"has_mask_or_ventilator"`
	DeviceConfidence    *float64       `json:"device_confidence,omitempty"`
	Timestamp           Time           `json:"timestamp"`
}

// DetectionResult is one entry of GET /sessions/{id}/results.
type DetectionResult struct {
	SessionID      string        `json:"session_id"`
	ROIID          string        `json:"roi_id"`
	Status         string        `json:"status"`
	PersonDetected bool          `json:"person_detected"`
	Confidence     float64       `json:"confidence"`
	BBox           []int         `json:"bbox,omitempty"`
	FaceAnalysis   *FaceAnalysis `json:"face_analysis,omitempty"`
	Timestamp      Time          `json:"timestamp"`
}

// ResultsQuery filters GET /sessions/{id}/results.
type ResultsQuery struct {
	Limit int    `validate:"gte=0,lte=10000"`
	ROIID string `validate:"max=64"`
}

// Health is the body of GET /health.
type Health struct {
	Status           string `json:"status"`
	Sessions         int    `json:"sessions"`
	ActiveDetections int    `json:"active_detections"`
}

// ---- devices ----

// DeviceStatus is the reachability state of a device.
type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "online"
	DeviceOffline     DeviceStatus = "offline"
	DeviceBusy        DeviceStatus = "busy"
	DeviceError       DeviceStatus = "error"
	DeviceMaintenance DeviceStatus = "maintenance"
)

// DeviceType is the hardware model.
type DeviceType string

const (
	DeviceJetsonNano     DeviceType = "jetson_nano"
	DeviceJetsonOrinNano DeviceType = "jetson_orin_nano"
	DeviceJetsonOrinNX   DeviceType = "jetson_orin_nx"
	DeviceJetsonAGXOrin  DeviceType = "jetson_agx_orin"
	DeviceOther          DeviceType = "other"
)

// Device is a registered edge device.
type Device struct {
	DeviceID      string       `json:"device_id"`
	Name          string       `json:"name"`
	DeviceType    DeviceType   `json:"device_type"`
	IPAddress     string       `json:"ip_address"`
	Port          int          `json:"port"`
	Status        DeviceStatus `json:"status"`
	Description   *string      `json:"description"`
	Location      *string      `json:"location"`
	Owner         *string      `json:"owner"`
	Tags          []string     `json:"tags"`
	CreatedAt     Time         `json:"created_at"`
	UpdatedAt     Time         `json:"updated_at"`
	LastHeartbeat *Time        `json:"last_heartbeat"`
}

// DeviceCreate is the body of POST /devices/.
type DeviceCreate struct {
	Name        string     `json:"name" validate:"required,max=100"`
	DeviceType  DeviceType `json:"device_type" validate:"required,oneof=jetson_nano jetson_orin_nano jetson_orin_nx jetson_agx_orin other"`
	IPAddress   string     `json:"ip_address" validate:"required,ip"`
	Port        int        `json:"port" validate:"omitempty,min=1,max=65535"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=500"`
	Location    *string    `json:"location,omitempty" validate:"omitempty,max=200"`
	Owner       *string    `json:"owner,omitempty" validate:"omitempty,max=100"`
	Tags        []string   `json:"tags" validate:"max=32,dive,max=50"`
}

// DeviceUpdate is the body of PATCH /devices/{id}. Nil fields are left unchanged.
type DeviceUpdate struct {
	Name        *string       `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Status      *DeviceStatus `json:"status,omitempty" validate:"omitempty,oneof=online offline busy error maintenance"`
	Description *string       `json:"description,omitempty" validate:"omitempty,max=500"`
	Location    *string       `json:"location,omitempty" validate:"omitempty,max=200"`
	Owner       *string       `json:"owner,omitempty" validate:"omitempty,max=100"`
	Tags        []string      `json:"tags,omitempty" validate:"omitempty,max=32,dive,max=50"`
}

// DeviceStats is one resource sample reported by a device.
type DeviceStats struct {
	DeviceID        string   `json:"device_id" validate:"required"`
	Timestamp       Time     `json:"timestamp"`
	CPUUsage        float64  `json:"cpu_usage" validate:"gte=0,lte=100"`
	MemoryUsage     float64  `json:"memory_usage" validate:"gte=0,lte=100"`
	GPUUsage        *float64 `json:"gpu_usage,omitempty" validate:"omitempty,gte=0,lte=100"`
	Temperature     *float64 `json:"temperature,omitempty"`
	NetworkRXBytes  *int64   `json:"network_rx_bytes,omitempty"`
	NetworkTXBytes  *int64   `json:"network_tx_bytes,omitempty"`
	FPS             *float64 `json:"fps,omitempty"`
	ActiveSessions  int      `json:"active_sessions"`
	TotalDetections int      `json:"total_detections"`
}

// DeviceHeartbeat is the body of POST /devices/{id}/heartbeat.
type DeviceHeartbeat struct {
	DeviceID  string       `json:"device_id" validate:"required"`
	Status    DeviceStatus `json:"status" validate:"required,oneof=online offline busy error maintenance"`
	Timestamp *Time        `json:"timestamp,omitempty"`
	Stats     *DeviceStats `json:"stats,omitempty"`
}

// StatusSummary is the body of GET /devices/status/summary.
type StatusSummary struct {
	Total       int `json:"total"`
	Online      int `json:"online"`
	Offline     int `json:"offline"`
	Busy        int `json:"busy"`
	Error       int `json:"error"`
	Maintenance int `json:"maintenance"`
}

// ---- auth admin ----

// Account is one entry of GET /auth/users.
type Account struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// ActiveSessions is the body of GET /auth/sessions/active. Session entries are backend-defined.
type ActiveSessions struct {
	ActiveSessions int             `json:"active_sessions"`
	Sessions       json.RawMessage `json:"sessions"`
}

// Message is the generic {"message": "..."} acknowledgement.
type Message struct {
	Message string `json:"message"`
}
