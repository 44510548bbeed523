package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// StageRequest is the work message published to a stage-request queue.
// One request drives one worker invocation for one scan.
type StageRequest struct {
	ScanID     string    `json:"scan_id"`
	TargetID   string    `json:"target_id"`
	TargetHost string    `json:"target_host"`
	ScanTypeID string    `json:"scan_type_id,omitempty"`
	Plugin     Module    `json:"plugin"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate checks that all required request fields are present
func (r *StageRequest) Validate() error {
	if r.ScanID == "" {
		return fmt.Errorf("stage request missing scan_id")
	}
	if r.TargetID == "" {
		return fmt.Errorf("stage request missing target_id")
	}
	if r.TargetHost == "" {
		return fmt.Errorf("stage request missing target_host")
	}
	if !r.Plugin.Valid() {
		return fmt.Errorf("stage request has unknown plugin %q", r.Plugin)
	}
	return nil
}

// ParseStageRequest decodes and validates a stage-request body
func ParseStageRequest(body []byte) (*StageRequest, error) {
	var req StageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode stage request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// EventStatus is the per-stage progress vocabulary on the status queue
type EventStatus string

const (
	EventReceived  EventStatus = "received"
	EventRunning   EventStatus = "running"
	EventParsing   EventStatus = "parsing"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// Valid reports whether the status is a known event status
func (s EventStatus) Valid() bool {
	switch s {
	case EventReceived, EventRunning, EventParsing, EventCompleted, EventFailed:
		return true
	}
	return false
}

// Terminal reports whether the event ends a stage
func (s EventStatus) Terminal() bool {
	return s == EventCompleted || s == EventFailed
}

// StatusEvent is the message a worker publishes on the status-update queue
type StatusEvent struct {
	ScanID       string      `json:"scan_id"`
	Module       Module      `json:"module"`
	Status       EventStatus `json:"status"`
	Timestamp    time.Time   `json:"timestamp"`
	Message      string      `json:"message,omitempty"`
	ErrorDetails string      `json:"error_details,omitempty"`
	Progress     *int        `json:"progress,omitempty"`
}

// statusEventWire tolerates the legacy field spellings still emitted by
// older workers: "plugin" for the module key, "error" for the failed
// status, and "gce" for the vuln_engine module.
type statusEventWire struct {
	ScanID       string      `json:"scan_id"`
	Module       Module      `json:"module"`
	Plugin       Module      `json:"plugin"`
	Status       EventStatus `json:"status"`
	Timestamp    time.Time   `json:"timestamp"`
	Message      string      `json:"message,omitempty"`
	ErrorDetails string      `json:"error_details,omitempty"`
	Progress     *int        `json:"progress,omitempty"`
}

// ParseStatusEvent decodes a status-update body, normalises legacy
// spellings, and rejects unknown module or status tags.
func ParseStatusEvent(body []byte) (*StatusEvent, error) {
	var wire statusEventWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode status event: %w", err)
	}

	ev := StatusEvent{
		ScanID:       wire.ScanID,
		Module:       wire.Module,
		Status:       wire.Status,
		Timestamp:    wire.Timestamp,
		Message:      wire.Message,
		ErrorDetails: wire.ErrorDetails,
		Progress:     wire.Progress,
	}
	if ev.Module == "" {
		ev.Module = wire.Plugin
	}
	if ev.Module == "gce" {
		ev.Module = ModuleVulnEngine
	}
	if ev.Status == "error" {
		ev.Status = EventFailed
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate checks event fields against the closed vocabularies
func (e *StatusEvent) Validate() error {
	if e.ScanID == "" {
		return fmt.Errorf("status event missing scan_id")
	}
	if !e.Module.Valid() {
		return fmt.Errorf("status event has unknown module %q", e.Module)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("status event has unknown status %q", e.Status)
	}
	if e.Progress != nil && (*e.Progress < 0 || *e.Progress > 100) {
		return fmt.Errorf("status event progress %d out of range", *e.Progress)
	}
	return nil
}
