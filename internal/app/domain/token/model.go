// Package token defines the service token model and the lifecycle state
// machine shared by the registry and its stores.
package token

import "time"

// Token is one service record, or the evidence record minted for it on
// payment. Ownership is not stored here; it lives in the external ledger and
// is read through mint/transfer/ownerOf calls only.
type Token struct {
	ID    uint64 `json:"id"`
	State State  `json:"state"`
	// Rating is non-zero only while the token is in the rated state. The
	// exception is an evidence token, which preserves the final rating
	// permanently.
	Rating    int    `json:"rating"`
	Companion string `json:"companion,omitempty"`
	// EvidenceOf is the id of the evidence token minted for this token on
	// payment, zero when none exists. Set at most once.
	EvidenceOf uint64 `json:"evidence_of,omitempty"`
	// Evidence marks the token as an immutable evidence record.
	Evidence bool   `json:"evidence,omitempty"`
	URI      string `json:"uri,omitempty"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// OwnedToken is the per-token view returned by owner listings.
type OwnedToken struct {
	ID        uint64 `json:"id"`
	State     State  `json:"state"`
	Companion string `json:"companion,omitempty"`
}

// OwnerStats aggregates one owner's holdings per lifecycle state. Only the
// buckets belonging to the active variant are populated.
type OwnerStats struct {
	Total     int `json:"total"`
	Created   int `json:"created"`
	Matched   int `json:"matched"`
	Completed int `json:"completed,omitempty"`
	Rated     int `json:"rated,omitempty"`
	Paid      int `json:"paid,omitempty"`
	Finished  int `json:"finished,omitempty"`
}
