package model

import (
	"fmt"
	"time"
)

// RequestStatus is the lifecycle state of an access request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// String returns the string representation of the status.
func (s RequestStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestDenied:
		return true
	}
	return false
}

// IsSettled reports whether the status can no longer change.
func (s RequestStatus) IsSettled() bool {
	return s == RequestApproved || s == RequestDenied
}

// CanTransition reports whether moving from s to next is allowed.
// Status is monotonic: pending moves to approved or denied, never back.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	return s == RequestPending && next.IsSettled()
}

// RequestStatusFromCode maps the ledger's numeric status to a RequestStatus.
func RequestStatusFromCode(code uint8) (RequestStatus, error) {
	switch code {
	case 0:
		return RequestPending, nil
	case 1:
		return RequestApproved, nil
	case 2:
		return RequestDenied, nil
	}
	return "", fmt.Errorf("unknown request status code %d", code)
}

// AccessRequest is the current-state projection of one request id.
type AccessRequest struct {
	ID             uint64        `json:"id"`
	Requester      string        `json:"requester"`
	Patient        string        `json:"patient"`
	DataTypes      []string      `json:"data_types"`
	Purposes       []string      `json:"purposes"`
	Status         RequestStatus `json:"status"`
	ExpirationTime *time.Time    `json:"expiration_time,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	ConsentID      *uint64       `json:"consent_id,omitempty"`
}
