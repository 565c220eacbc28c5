package sqlite

import (
	"context"
	"errors"
	"time"

	"botstore/db"
	"botstore/models"
)

func (s *Store) BeginEvidence(ctx context.Context, rec models.EvidenceRecord) (models.EvidenceRecord, bool, error) {
	rec.State = models.EvidenceInProgress
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_evidence(ref_code, evidence_id, kind, state, outcome, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.RefCode, rec.EvidenceID, rec.Kind, rec.State, rec.Outcome, nanos(rec.CreatedAt), nanos(rec.CreatedAt))
	err = classify(err)
	if err == nil {
		rec.UpdatedAt = rec.CreatedAt
		return rec, true, nil
	}
	if !errors.Is(err, db.ErrDuplicate) {
		return models.EvidenceRecord{}, false, err
	}

	var (
		stored               models.EvidenceRecord
		createdAt, updatedAt int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT ref_code, evidence_id, kind, state, outcome, created_at, updated_at
		 FROM payment_evidence WHERE ref_code = ? AND evidence_id = ?`, rec.RefCode, rec.EvidenceID)
	if err := row.Scan(&stored.RefCode, &stored.EvidenceID, &stored.Kind, &stored.State,
		&stored.Outcome, &createdAt, &updatedAt); err != nil {
		return models.EvidenceRecord{}, false, classify(err)
	}
	stored.CreatedAt = fromNanos(createdAt)
	stored.UpdatedAt = fromNanos(updatedAt)
	return stored, false, nil
}

func (s *Store) FinishEvidence(ctx context.Context, refCode, evidenceID, outcome string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_evidence SET state = ?, outcome = ?, updated_at = ?
		 WHERE ref_code = ? AND evidence_id = ?`,
		models.EvidenceDone, outcome, nanos(at), refCode, evidenceID)
	if err != nil {
		return classify(err)
	}
	return mustMatch(res)
}
