// Package models holds the verification record and the pure decision rule
// shared by every store implementation.
package models

import (
	"time"

	"guildgate/internal/risk"
)

// Outcome is the terminal result of one verification attempt.
type Outcome string

const (
	OutcomeGranted            Outcome = "granted"
	OutcomeDeniedNetworkReuse Outcome = "denied_network_reuse"
	OutcomeDeniedHighRisk     Outcome = "denied_high_risk"
)

func (o Outcome) String() string {
	return string(o)
}

// IsGranted reports whether the attempt ended with membership granted.
func (o Outcome) IsGranted() bool {
	return o == OutcomeGranted
}

// Record is the persisted state for one (community, subject) pair.
//
// Invariants:
//   - exactly one record per (CommunityID, SubjectID); later attempts overwrite
//   - Verified is true iff GrantedAt is non-nil
//   - CreatedAt is set by the first write and never changed
type Record struct {
	CommunityID   string     `json:"community_id"`
	SubjectID     string     `json:"subject_id"`
	Verified      bool       `json:"verified"`
	NetworkHash   *string    `json:"network_hash,omitempty"`
	RiskScore     *int       `json:"risk_score,omitempty"`
	FingerprintID *string    `json:"fingerprint_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	GrantedAt     *time.Time `json:"granted_at,omitempty"`
}

// DecideRequest carries one evaluated callback into the store.
type DecideRequest struct {
	CommunityID string
	SubjectID   string
	NetworkHash string
	RiskScore   int
	Now         time.Time
}

// Decide applies the gate rule given whether another subject already holds a
// verified record on the same network. Reuse wins over risk.
func Decide(networkTaken bool, riskScore int) Outcome {
	switch {
	case networkTaken:
		return OutcomeDeniedNetworkReuse
	case risk.IsHighRisk(riskScore):
		return OutcomeDeniedHighRisk
	default:
		return OutcomeGranted
	}
}

// Apply builds the record written for req and outcome. existing may be nil;
// when present its CreatedAt and FingerprintID are carried over.
func Apply(existing *Record, req DecideRequest, outcome Outcome) *Record {
	hash := req.NetworkHash
	score := req.RiskScore
	rec := &Record{
		CommunityID: req.CommunityID,
		SubjectID:   req.SubjectID,
		Verified:    outcome.IsGranted(),
		NetworkHash: &hash,
		RiskScore:   &score,
		CreatedAt:   req.Now,
	}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
		rec.FingerprintID = existing.FingerprintID
	}
	if rec.Verified {
		granted := req.Now
		rec.GrantedAt = &granted
	}
	return rec
}

// ListFilter narrows List results. A nil Verified matches both states.
type ListFilter struct {
	CommunityID string
	Verified    *bool
	Limit       int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// NormalizedLimit clamps Limit into [1, MaxListLimit].
func (f ListFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}
