package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Add appends a field error.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns e when it holds errors and nil otherwise.
func (e *ValidationError) Err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

func fieldError(field, format string, args ...any) error {
	ve := &ValidationError{}
	ve.Add(field, format, args...)
	return ve
}

// NormalizeAddress trims and lower-cases a ledger address.
// It returns a *ValidationError when s is not a 0x-prefixed 20-byte hex address.
func NormalizeAddress(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fieldError(field, "is required")
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fieldError(field, "must be a 0x-prefixed address, got %q", s)
	}
	if !common.IsHexAddress(s) {
		return "", fieldError(field, "malformed address %q", s)
	}
	return "0x" + strings.ToLower(s[2:]), nil
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// RequireString rejects empty or whitespace-only values.
func RequireString(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fieldError(field, "is required")
	}
	return s, nil
}

// ParseID parses a non-negative integer id. Anything else is an invalid_id error.
func ParseID(field, s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &Error{Kind: KindInvalidID, Op: field, Msg: "id is required"}
	}
	if strings.HasPrefix(s, "-") {
		return 0, &Error{Kind: KindInvalidID, Op: field, Msg: fmt.Sprintf("id must not be negative, got %q", s)}
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &Error{Kind: KindInvalidID, Op: field, Msg: fmt.Sprintf("id must be an integer, got %q", s)}
	}
	return id, nil
}

// ParseBlock parses an optional block number. An empty string yields nil.
func ParseBlock(field, s string) (*uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fieldError(field, "must be a non-negative block number, got %q", s)
	}
	return &n, nil
}

// ValidateBlockRange rejects inverted windows and windows wider than maxWidth.
// A window with an open bound is accepted; the indexer caps open ranges itself.
func ValidateBlockRange(r BlockRange, maxWidth uint64) error {
	if r.From == nil || r.To == nil {
		return nil
	}
	if *r.From > *r.To {
		return fieldError("from_block", "must not exceed to_block (%d > %d)", *r.From, *r.To)
	}
	if maxWidth > 0 && *r.To-*r.From > maxWidth {
		return fieldError("to_block", "block window of %d exceeds maximum of %d", *r.To-*r.From, maxWidth)
	}
	return nil
}

// ValidateEvent checks that an event carries what replay depends on.
func ValidateEvent(e *Event) error {
	var ve ValidationError

	if !e.Type.IsValid() {
		ve.Add("type", "invalid value %q", e.Type)
	}
	if e.Type.IsLedgerType() && strings.TrimSpace(e.TransactionHash) == "" {
		ve.Add("transaction_hash", "is required")
	}
	if strings.TrimSpace(e.Patient) == "" {
		ve.Add("patient", "is required")
	}
	switch e.Type {
	case EventConsentGranted, EventConsentRevoked, EventConsentExpired:
		if e.ConsentID == nil {
			ve.Add("consent_id", "is required for %s", e.Type)
		}
	case EventAccessRequested, EventAccessDenied:
		if e.RequestID == nil {
			ve.Add("request_id", "is required for %s", e.Type)
		}
	case EventAccessApproved:
		if e.RequestID == nil {
			ve.Add("request_id", "is required for %s", e.Type)
		}
		if e.ConsentID == nil {
			ve.Add("consent_id", "is required for %s", e.Type)
		}
	}
	return ve.Err()
}
