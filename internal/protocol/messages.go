// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package protocol defines the JSON messages exchanged with the scanning
// daemon. Each message travels as one length-prefixed frame.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/validation"
)

// Action selects what the daemon does with a request.
type Action string

const (
	ActionScanContent Action = "scan_content" // Scan inline content
	ActionScanFile    Action = "scan_file"    // Scan a file readable by the daemon
	ActionHealth      Action = "health"       // Full degradation report
	ActionHealthLive  Action = "health_live"  // Liveness probe
	ActionHealthReady Action = "health_ready" // Readiness probe
	ActionMetrics     Action = "metrics"      // Prometheus text exposition
)

// Status of a response.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// UnknownRequestID is echoed when a request carried no ID.
const UnknownRequestID = "unknown"

// Request is the envelope for client->daemon messages.
type Request struct {
	Action    Action `json:"action"`
	RequestID string `json:"request_id,omitempty"`
	Content   []byte `json:"content,omitempty"`   // base64 on the wire
	Filename  string `json:"filename,omitempty"`  // display name for scan_content
	FilePath  string `json:"file_path,omitempty"` // for scan_file
}

// NewRequest returns a request with a fresh ID.
func NewRequest(action Action) Request {
	return Request{Action: action, RequestID: uuid.NewString()}
}

// NewScanRequest wraps content in a scan_content request.
func NewScanRequest(content []byte, filename string) Request {
	r := NewRequest(ActionScanContent)
	r.Content = content
	r.Filename = filename
	return r
}

// ScanResult is the payload of a successful scan.
type ScanResult struct {
	SHA256      string             `json:"sha256"`
	Score       float64            `json:"score"`
	Level       string             `json:"level"`
	Band        string             `json:"band"`
	Confidence  float64            `json:"confidence"`
	Labels      []string           `json:"labels"`
	Explanation string             `json:"explanation,omitempty"`
	ContentType string             `json:"content_type,omitempty"`
	Tiers       []string           `json:"tiers,omitempty"` // analysis tiers that ran
	Degraded    bool               `json:"degraded,omitempty"`
	Cached      bool               `json:"cached"`
	Listed      string             `json:"listed,omitempty"` // allowed or denied
	Scores      map[string]float64 `json:"scores,omitempty"`
	Duration    time.Duration      `json:"duration_ns"`
}

// ThreatDetected reports whether the verdict is anything but clean.
func (r *ScanResult) ThreatDetected() bool {
	return r.Level != "" && r.Level != "clean"
}

// ServiceHealth is one dependency's degradation state.
type ServiceHealth struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Failures  uint64    `json:"failures"`
	ChangedAt time.Time `json:"changed_at"`
}

// HealthReport is the payload of health actions.
type HealthReport struct {
	Status   string          `json:"status"` // normal, degraded, critical_failure
	Live     bool            `json:"live"`
	Ready    bool            `json:"ready"`
	Uptime   time.Duration   `json:"uptime_ns"`
	Services []ServiceHealth `json:"services,omitempty"`
}

// Response is the envelope for daemon->client messages.
type Response struct {
	RequestID string        `json:"request_id"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Result    *ScanResult   `json:"result,omitempty"`
	Health    *HealthReport `json:"health,omitempty"`
	Metrics   string        `json:"metrics,omitempty"`
}

// OK reports whether the response carries a success status.
func (r *Response) OK() bool {
	return r.Status == StatusSuccess
}

// Err converts an error response back into an error of the reported kind.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return errors.New(ParseKind(r.ErrorKind), r.Error)
}

// Success returns a success response for req.
func Success(req *Request) Response {
	return Response{RequestID: requestID(req), Status: StatusSuccess}
}

// Failure returns an error response for req carrying err's message and kind.
func Failure(req *Request, err error) Response {
	return Response{
		RequestID: requestID(req),
		Status:    StatusError,
		Error:     err.Error(),
		ErrorKind: errors.GetKind(err).String(),
	}
}

func requestID(req *Request) string {
	if req == nil || req.RequestID == "" {
		return UnknownRequestID
	}
	return req.RequestID
}

// ParseKind maps a Kind's String form back to the Kind.
func ParseKind(s string) errors.Kind {
	for k := errors.KindUnknown; k <= errors.KindRateLimited; k++ {
		if k.String() == s {
			return k
		}
	}
	return errors.KindUnknown
}

// DecodeRequest parses and validates one request frame.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "decode request")
	}
	if err := req.Validate(); err != nil {
		return &req, err
	}
	return &req, nil
}

// Validate checks that the fields an action needs are present.
func (r *Request) Validate() error {
	switch r.Action {
	case ActionScanContent:
		if len(r.Content) == 0 {
			return errors.New(errors.KindValidation, "missing 'content' field")
		}
		if err := validation.ValidateFilename(r.Filename); err != nil {
			return err
		}
	case ActionScanFile:
		if r.FilePath == "" {
			return errors.New(errors.KindValidation, "missing 'file_path' field")
		}
	case ActionHealth, ActionHealthLive, ActionHealthReady, ActionMetrics:
	case "":
		return errors.New(errors.KindValidation, "missing 'action' field")
	default:
		return errors.Errorf(errors.KindValidation, "unknown action %q", r.Action)
	}
	return nil
}

// DecodeResponse parses one response frame.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "decode response")
	}
	return &resp, nil
}

// Encode marshals a request or response for framing.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "encode message")
	}
	return data, nil
}
