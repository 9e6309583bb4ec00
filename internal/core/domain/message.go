package domain

import "encoding/json"

// Wire message kinds carried over the signaling channel. The relay routes
// envelopes by addressing only; payload discipline lives in the endpoints.
const (
	MsgRoleRequest      = "role_request"
	MsgRoleRelease      = "role_release"
	MsgRoleGranted      = "role_granted"
	MsgRoleDenied       = "role_denied"
	MsgBroadcastStarted = "broadcast_started"
	MsgBroadcastStopped = "broadcast_stopped"
	MsgListenerReady    = "listener_ready"
	MsgOffer            = "offer"
	MsgAnswer           = "answer"
	MsgICECandidate     = "ice_candidate"
	MsgStateSnapshot    = "state_snapshot"
	MsgSnapshotRequest  = "snapshot_request"
	MsgChat             = "chat"
	MsgError            = "error"
)

// Envelope is the unit of signaling exchange. TargetID is empty for
// messages addressed to the relay itself or broadcast to everyone.
type Envelope struct {
	Type     string          `json:"type"`
	SenderID PartyID         `json:"sender_id,omitempty"`
	TargetID PartyID         `json:"target_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type RoleRequestPayload struct {
	DisplayLabel string `json:"display_label"`
}

type RoleDeniedPayload struct {
	Reason string `json:"reason"`
}

type BroadcastStartedPayload struct {
	BroadcasterID PartyID `json:"broadcaster_id"`
	DisplayLabel  string  `json:"display_label"`
}

type BroadcastStoppedPayload struct {
	BroadcasterID PartyID `json:"broadcaster_id"`
}

type ListenerReadyPayload struct {
	ListenerID    PartyID `json:"listener_id"`
	BroadcasterID PartyID `json:"broadcaster_id"`
}

type DescriptionPayload struct {
	SDP string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate string `json:"candidate"`
}

type StateSnapshotPayload struct {
	Session       *BroadcastSession `json:"session,omitempty"`
	ListenerCount int               `json:"listener_count"`
	ChatBacklog   []json.RawMessage `json:"chat_backlog,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MustMarshal serializes a payload that cannot fail for the types above.
func MustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
