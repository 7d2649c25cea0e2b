package ingest

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/xelth-com/sensestamp/internal/apperr"
)

// maxPayloadBytes bounds a single event body; real payloads are ~300 bytes.
const maxPayloadBytes = 16 << 10

// Request is an event as submitted by a device
type Request struct {
	DeviceID  string  `json:"device_id"`
	TagUID    string  `json:"tag_uid"`
	Timestamp int64   `json:"timestamp"`
	Location  *string `json:"location,omitempty"`
	Signature string  `json:"signature"`
	BatteryMV *int    `json:"battery_mv,omitempty"`
	FWVersion *string `json:"fw_version,omitempty"`

	raw json.RawMessage
}

// Raw returns the payload bytes the request was parsed from, if any.
func (r Request) Raw() json.RawMessage { return r.raw }

// ParseRequest decodes and validates an event payload.
func ParseRequest(body io.Reader) (Request, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxPayloadBytes+1))
	if err != nil {
		return Request{}, apperr.Validation("Unreadable request body")
	}
	if len(data) > maxPayloadBytes {
		return Request{}, apperr.Validation("Request body too large")
	}

	var req Request
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&req); err != nil {
		return Request{}, apperr.Validation("Invalid JSON payload")
	}
	// The whole body is stored as the raw payload, so it must be exactly one value
	if _, err := dec.Token(); err != io.EOF {
		return Request{}, apperr.Validation("Invalid JSON payload")
	}
	req.raw = json.RawMessage(data)

	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks that every required field is present.
func (r *Request) Validate() error {
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	r.TagUID = strings.TrimSpace(r.TagUID)
	r.Signature = strings.TrimSpace(r.Signature)

	if r.DeviceID == "" || r.TagUID == "" || r.Timestamp <= 0 || r.Signature == "" {
		return apperr.Validation("Missing required fields: device_id, tag_uid, timestamp, signature")
	}
	if r.Location != nil && strings.TrimSpace(*r.Location) == "" {
		r.Location = nil
	}
	if r.FWVersion != nil && *r.FWVersion == "" {
		r.FWVersion = nil
	}
	if r.BatteryMV != nil && *r.BatteryMV <= 0 {
		r.BatteryMV = nil
	}
	return nil
}
