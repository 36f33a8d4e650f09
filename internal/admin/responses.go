package admin

import (
	"time"

	"guildgate/internal/verification/models"
)

// VerificationResponse is the HTTP response DTO for one verification record.
type VerificationResponse struct {
	SubjectID   string     `json:"subject_id"`
	Verified    bool       `json:"verified"`
	Status      string     `json:"status"`
	NetworkHash string     `json:"network_hash,omitempty"`
	RiskScore   *int       `json:"risk_score,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	GrantedAt   *time.Time `json:"granted_at,omitempty"`
}

// VerificationsListResponse wraps the list of records for HTTP response.
type VerificationsListResponse struct {
	CommunityID   string                  `json:"community_id"`
	Verifications []*VerificationResponse `json:"verifications"`
	Total         int                     `json:"total"`
}

// FromRecord converts a stored record to its admin view. Status is derived
// because the store keeps only the boolean.
func FromRecord(rec *models.Record) *VerificationResponse {
	resp := &VerificationResponse{
		SubjectID: rec.SubjectID,
		Verified:  rec.Verified,
		Status:    "pending",
		RiskScore: rec.RiskScore,
		CreatedAt: rec.CreatedAt,
		GrantedAt: rec.GrantedAt,
	}
	if rec.NetworkHash != nil {
		resp.NetworkHash = *rec.NetworkHash
	}
	if rec.Verified {
		resp.Status = "verified"
	} else if rec.RiskScore != nil {
		resp.Status = "denied"
	}
	return resp
}

func FromRecords(communityID string, recs []*models.Record) *VerificationsListResponse {
	out := &VerificationsListResponse{
		CommunityID:   communityID,
		Verifications: make([]*VerificationResponse, 0, len(recs)),
		Total:         len(recs),
	}
	for _, rec := range recs {
		out.Verifications = append(out.Verifications, FromRecord(rec))
	}
	return out
}
