package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
)

// EventType names what happened. Consumers route on it.
type EventType string

const (
	EventVerificationOutcome EventType = "verification_outcome"
)

// Event is emitted after a verification decision is committed. It carries no
// raw address: only the community-scoped network hash.
type Event struct {
	ID          uuid.UUID     `json:"id"`
	Type        EventType     `json:"type"`
	Timestamp   time.Time     `json:"timestamp"`
	CommunityID string        `json:"community_id"`
	SubjectID   string        `json:"subject_id"`
	Outcome     string        `json:"outcome"`
	RiskScore   int           `json:"risk_score"`
	NetworkHash string        `json:"network_hash"`
	RequestID   string        `json:"request_id,omitempty"`
	Client      ClientSummary `json:"client"`
}

// Key partitions events so one subject's outcomes stay ordered.
func (e Event) Key() string {
	return e.CommunityID + ":" + e.SubjectID
}

// ClientSummary is a coarse description of the browser that completed the
// flow, useful for spotting automated sign-ups.
type ClientSummary struct {
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Mobile  bool   `json:"mobile"`
	Bot     bool   `json:"bot"`
}

// SummarizeUserAgent parses raw into a ClientSummary. An empty string yields
// the zero value.
func SummarizeUserAgent(raw string) ClientSummary {
	if raw == "" {
		return ClientSummary{}
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	browser := name
	if version != "" {
		browser = name + " " + version
	}
	return ClientSummary{
		Browser: browser,
		OS:      ua.OS(),
		Mobile:  ua.Mobile(),
		Bot:     ua.Bot(),
	}
}
