package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the persisted outcome of one processed event.
// The string forms are part of the audit log schema.
type Status string

const (
	StatusBlocked Status = "Blocked"
	StatusTrusted Status = "Trusted"
)

// ParseStatus accepts "blocked" or "trusted" in any case.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blocked":
		return StatusBlocked, nil
	case "trusted":
		return StatusTrusted, nil
	default:
		return "", fmt.Errorf("unsupported status: %q", s)
	}
}

// Valid reports whether s is one of the schema values.
func (s Status) Valid() bool { return s == StatusBlocked || s == StatusTrusted }

// BlockDecision is the outcome of processing one event that reached classification.
type BlockDecision struct {
	Destination      Endpoint
	Source           Endpoint
	ResolvedHostname string
	Status           Status
}

// AuditEntry is one persisted row of the audit log.
type AuditEntry struct {
	ID               int64
	Timestamp        time.Time
	Source           string
	Destination      string
	ResolvedHostname string
	Status           Status
}

// NewAuditEntry stamps a decision for persistence.
func NewAuditEntry(d BlockDecision, at time.Time) AuditEntry {
	return AuditEntry{
		Timestamp:        at,
		Source:           d.Source.String(),
		Destination:      d.Destination.String(),
		ResolvedHostname: d.ResolvedHostname,
		Status:           d.Status,
	}
}

// AuditFilter narrows an audit log query. Zero values disable a criterion.
type AuditFilter struct {
	Keyword string
	Status  Status
	Start   time.Time
	End     time.Time
	Limit   int
	// Newest orders results most-recent first instead of insertion order.
	Newest bool
}
