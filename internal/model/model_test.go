package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEventType_IsValid(t *testing.T) {
	for _, et := range LedgerEventTypes {
		if !et.IsValid() || !et.IsLedgerType() {
			t.Errorf("%s should be a valid ledger type", et)
		}
	}
	if !EventConsentExpired.IsValid() {
		t.Error("ConsentExpired should be valid")
	}
	if EventConsentExpired.IsLedgerType() {
		t.Error("ConsentExpired is synthesized, not a ledger type")
	}
	if EventType("bogus").IsValid() {
		t.Error("bogus should be invalid")
	}
}

func TestEvent_DedupKey(t *testing.T) {
	for _, tc := range []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "grant",
			ev:   Event{Type: EventConsentGranted, TransactionHash: "0xaa", ConsentID: Uint64Ptr(3)},
			want: "0xaa-consent:3",
		},
		{
			name: "approval keyed by request",
			ev:   Event{Type: EventAccessApproved, TransactionHash: "0xaa", RequestID: Uint64Ptr(9), ConsentID: Uint64Ptr(3)},
			want: "0xaa-request:9",
		},
		{
			name: "no ids",
			ev:   Event{Type: EventConsentRevoked, TransactionHash: "0xbb"},
			want: "0xbb-ConsentRevoked",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.DedupKey(); got != tc.want {
				t.Errorf("DedupKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEvent_HasDataType(t *testing.T) {
	e := Event{DataTypes: []string{"a", "b"}}
	if !e.HasDataType("b") || e.HasDataType("c") {
		t.Errorf("HasDataType mismatch for %v", e.DataTypes)
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)
	if IsExpired(nil, now) {
		t.Error("nil expiration never expires")
	}
	if !IsExpired(&past, now) {
		t.Error("past expiration should be expired")
	}
	if IsExpired(&now, now) {
		t.Error("expiration equal to now is still in force")
	}
	if IsExpired(&future, now) {
		t.Error("future expiration should not be expired")
	}
}

func TestRequestStatus(t *testing.T) {
	if !RequestPending.CanTransition(RequestApproved) || !RequestPending.CanTransition(RequestDenied) {
		t.Error("pending should move to approved or denied")
	}
	if RequestApproved.CanTransition(RequestPending) || RequestDenied.CanTransition(RequestApproved) {
		t.Error("settled statuses must not change")
	}
	for code, want := range map[uint8]RequestStatus{0: RequestPending, 1: RequestApproved, 2: RequestDenied} {
		got, err := RequestStatusFromCode(code)
		if err != nil || got != want {
			t.Errorf("RequestStatusFromCode(%d) = (%q, %v), want %q", code, got, err, want)
		}
	}
	if _, err := RequestStatusFromCode(7); err == nil {
		t.Error("expected error for unknown code")
	}
}

func TestEventFilter_Matches(t *testing.T) {
	e := &Event{
		Type:        EventConsentGranted,
		BlockNumber: 50,
		ConsentID:   Uint64Ptr(4),
		Patient:     "0xAAAA",
		Provider:    "0xbbbb",
	}
	for _, tc := range []struct {
		name string
		f    EventFilter
		want bool
	}{
		{"empty", EventFilter{}, true},
		{"patient case-insensitive", EventFilter{Patient: "0xaaaa"}, true},
		{"other provider", EventFilter{Provider: "0xcccc"}, false},
		{"type", EventFilter{Types: []EventType{EventConsentRevoked}}, false},
		{"consent id", EventFilter{ConsentIDs: []uint64{1, 4}}, true},
		{"request id absent", EventFilter{RequestIDs: []uint64{4}}, false},
		{"in range", EventFilter{FromBlock: Uint64Ptr(50), ToBlock: Uint64Ptr(50)}, true},
		{"below range", EventFilter{FromBlock: Uint64Ptr(51)}, false},
		{"above range", EventFilter{ToBlock: Uint64Ptr(49)}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.f.Matches(e); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"validation", &ValidationError{Errors: []FieldError{{Field: "x", Message: "bad"}}}, KindValidation},
		{"wrapped not found", fmt.Errorf("resolve: %w", NotFound("consent", "consent %d not found", 3)), KindNotFound},
		{"connectivity", Connectivity("ledger.blockNumber", errors.New("dial tcp: refused")), KindConnectivity},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), KindConnectivity},
		{"upstream", Upstream("ledger.decode", errors.New("short payload")), KindUpstream},
		{"plain", errors.New("boom"), KindInternal},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Connectivity("op", errors.New("timeout"))) {
		t.Error("connectivity errors should be retryable")
	}
	if IsRetryable(NotFound("op", "missing")) {
		t.Error("not found should not be retryable")
	}
	if IsRetryable(&ValidationError{}) {
		t.Error("validation should not be retryable")
	}
}

func TestError_Message(t *testing.T) {
	err := Connectivity("ledger.queryEvents", errors.New("connection refused"))
	if got, want := err.Error(), "ledger.queryEvents: connection refused"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	err = &Error{Kind: KindUpstream, Op: "ledger.readConsent", Msg: "unexpected shape", Err: errors.New("3 values")}
	if got, want := err.Error(), "ledger.readConsent: unexpected shape: 3 values"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
