package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// Prefix namespaces every key this service writes.
const Prefix = "consent:"

// Entities name the query shapes that are cached.
const (
	EntityStatus           = "status"
	EntityConsent          = "consent"
	EntityRequest          = "request"
	EntityPatientConsents  = "patient-consents"
	EntityProviderConsents = "provider-consents"
	EntityPending          = "pending"
	EntityHistory          = "history"
	EntityEvents           = "events"
)

// TTLs by data volatility.
const (
	TTLPending     = 10 * time.Second
	TTLMutable     = 15 * time.Second
	TTLBulk        = 15 * time.Second
	TTLSettled     = 120 * time.Second
	TTLSettledByID = 300 * time.Second
)

// Key builds a deterministic cache key for entity from parts. Addresses are
// lower-cased, block numbers stringified and booleans included, so equal
// queries share a key however their inputs were spelled.
func Key(entity string, parts ...any) string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteString(entity)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(keyPart(p))
	}
	return b.String()
}

func keyPart(p any) string {
	switch v := p.(type) {
	case string:
		if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
			return strings.ToLower(v)
		}
		if v == "" {
			return "_"
		}
		return v
	case uint64:
		return strconv.FormatUint(v, 10)
	case *uint64:
		if v == nil {
			return "_"
		}
		return strconv.FormatUint(*v, 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case []string:
		if len(v) == 0 {
			return "_"
		}
		return strings.Join(v, ",")
	case []model.EventType:
		if len(v) == 0 {
			return "_"
		}
		s := make([]string, len(v))
		for i, t := range v {
			s[i] = string(t)
		}
		return strings.Join(s, ",")
	case []uint64:
		if len(v) == 0 {
			return "_"
		}
		s := make([]string, len(v))
		for i, id := range v {
			s[i] = strconv.FormatUint(id, 10)
		}
		return strings.Join(s, ",")
	default:
		return "?"
	}
}

// Change describes a ledger write whose cached reads must be dropped.
type Change struct {
	Patient   string  `json:"patient,omitempty"`
	Provider  string  `json:"provider,omitempty"`
	ConsentID *uint64 `json:"consent_id,omitempty"`
	RequestID *uint64 `json:"request_id,omitempty"`
}

// Patterns returns the key patterns a change invalidates. Patient-scoped
// reads are targeted; provider-scoped listings and bulk event reads are
// dropped wholesale because a write can move records into or out of them.
// A revocation or request response may name only the record id, so a
// consent id also drops provider listings and a request id drops every
// pending listing.
func (c Change) Patterns() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(ps ...string) {
		for _, p := range ps {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	if c.Patient != "" {
		p := strings.ToLower(c.Patient)
		add(
			Key(EntityStatus, p)+":*",
			Key(EntityPatientConsents, p)+":*",
			Key(EntityHistory, p)+":*",
			Key(EntityPending, p)+":*",
		)
	}
	if c.Provider != "" {
		add(
			Key(EntityStatus)+":*",
			Key(EntityProviderConsents)+":*",
			Key(EntityPending)+":*",
		)
	}
	if c.ConsentID != nil {
		add(Key(EntityConsent, *c.ConsentID), Key(EntityProviderConsents)+":*")
	}
	if c.RequestID != nil {
		add(Key(EntityRequest, *c.RequestID), Key(EntityPending)+":*")
	}
	add(Key(EntityEvents) + ":*")
	return out
}
