package participant

import (
	"encoding/json"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

type balanceResponse struct {
	Type     string `json:"type"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// subjectResponse holds the fields every participant API returns; the full
// body is kept on the snapshot as Raw.
type subjectResponse struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Balances []balanceResponse `json:"balances"`
}

func (r subjectResponse) toSnapshot(participantID string, kind domain.SubjectKind, subjectID string, raw []byte, fetchedAt time.Time) *domain.SubjectSnapshot {
	id := r.ID
	if id == "" {
		id = subjectID
	}

	var balances []domain.Balance
	for _, b := range r.Balances {
		balances = append(balances, domain.Balance{Type: b.Type, Amount: b.Amount, Currency: b.Currency})
	}

	return &domain.SubjectSnapshot{
		SubjectID:     id,
		ParticipantID: participantID,
		Kind:          kind,
		Status:        r.Status,
		Balances:      balances,
		Raw:           json.RawMessage(raw),
		FetchedAt:     fetchedAt,
	}
}
