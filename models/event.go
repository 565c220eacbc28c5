package models

import "time"

// Entity types carried on fan-out events.
const (
	EntityOrder        = "order"
	EntityCustomOrder  = "custom_order"
	EntityPaymentAudit = "payment_audit"
)

// Event is a state change pushed to operator sessions.
type Event struct {
	ID            string        `json:"id"`
	EntityType    string        `json:"entity_type"`
	RefCode       string        `json:"ref_code"`
	ItemID        string        `json:"item_id,omitempty"`
	NewState      string        `json:"new_state"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	At            time.Time     `json:"at"`
}

// Key identifies the row an event refers to in a subscriber view.
func (e Event) Key() string {
	if e.ItemID != "" {
		return e.EntityType + ":" + e.ItemID + ":" + e.RefCode
	}
	return e.EntityType + ":" + e.RefCode
}

type EvidenceState string

const (
	EvidenceInProgress EvidenceState = "in_progress"
	EvidenceDone       EvidenceState = "done"
)

// EvidenceRecord is one row of the reconciliation ledger, unique per
// (RefCode, EvidenceID).
type EvidenceRecord struct {
	RefCode    string        `json:"ref_code" bson:"ref_code"`
	EvidenceID string        `json:"evidence_id" bson:"evidence_id"`
	Kind       EvidenceKind  `json:"kind" bson:"kind"`
	State      EvidenceState `json:"state" bson:"state"`
	Outcome    string        `json:"outcome,omitempty" bson:"outcome,omitempty"`
	CreatedAt  time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" bson:"updated_at"`
}
