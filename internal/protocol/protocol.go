// Package protocol defines the JSON envelopes exchanged on the command,
// response and status topics.
package protocol

import (
	"time"
)

// Command names accepted on the command topic
const (
	CommandGetSyncStatus      = "getSyncStatus"
	CommandStartAutoSync      = "startAutoSync"
	CommandStopAutoSync       = "stopAutoSync"
	CommandManualSync         = "manualSync"
	CommandDiscoverDevices    = "discoverDevices"
	CommandResetFailedDevices = "resetFailedDevices"
)

// Commands lists every known command
var Commands = []string{
	CommandGetSyncStatus,
	CommandStartAutoSync,
	CommandStopAutoSync,
	CommandManualSync,
	CommandDiscoverDevices,
	CommandResetFailedDevices,
}

// Response statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrorType classifies error responses
type ErrorType string

// Error types carried in error responses
const (
	ErrorTypeValidation           ErrorType = "ValidationError"
	ErrorTypeSyncInProgress       ErrorType = "SyncInProgress"
	ErrorTypeDirectoryUnavailable ErrorType = "DirectoryUnavailable"
	ErrorTypeInternal             ErrorType = "InternalError"
)

// EventScheduledSyncCompleted is published on the status topic after a scheduled run
const EventScheduledSyncCompleted = "scheduled_sync_completed"

// Request is a decoded command envelope
type Request struct {
	Command   string
	RequestID string

	// IntervalHours is set when the envelope carried interval_hours at the
	// top level or under data
	IntervalHours *int
}

// Response is published on the response topic for every request
type Response struct {
	Status    string    `json:"status"`
	Command   string    `json:"command"`
	RequestID string    `json:"request_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	ErrorType ErrorType `json:"error_type,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is an unsolicited message on the status topic
type Event struct {
	EventType string    `json:"event_type"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Success builds a success response for req
func Success(req Request, message string, data any, now time.Time) Response {
	return Response{
		Status:    StatusSuccess,
		Command:   req.Command,
		RequestID: req.RequestID,
		Message:   message,
		Data:      data,
		Timestamp: now.UTC(),
	}
}

// Failure builds an error response for req
func Failure(req Request, errType ErrorType, message string, now time.Time) Response {
	return Response{
		Status:    StatusError,
		Command:   req.Command,
		RequestID: req.RequestID,
		Message:   message,
		ErrorType: errType,
		Timestamp: now.UTC(),
	}
}
