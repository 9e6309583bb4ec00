package domain

import (
	"time"
)

type PartyID string
type SessionID string

// BroadcastSession exists only while a broadcaster is active. There is at
// most one active session system-wide; the arbitrator owns its lifecycle.
type BroadcastSession struct {
	ID            SessionID `json:"id"`
	BroadcasterID PartyID   `json:"broadcaster_id"`
	StartedAt     time.Time `json:"started_at"`
	DisplayLabel  string    `json:"display_label"`
}

// RoleGrant is the ephemeral authorization token held by the arbitrator.
// It is never persisted beyond process lifetime.
type RoleGrant struct {
	HolderID  PartyID
	GrantedAt time.Time
}
