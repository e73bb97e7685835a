// Package wsmsg defines the WebSocket wire message envelope shared by the
// session engine (producer), the state store's fan-out bus, and the
// WebSocket hub (consumer).
package wsmsg

import "github.com/synckairos/synckairos/internal/session"

// Type is the discriminator carried in every envelope.
type Type string

const (
	TypeStateUpdate          Type = "STATE_UPDATE"
	TypeTimeExpired          Type = "TIME_EXPIRED"
	TypeStateSync            Type = "STATE_SYNC"
	TypeReconnectAck         Type = "RECONNECT_ACK"
	TypePong                 Type = "PONG"
	TypePing                 Type = "PING"
	TypeReconnect            Type = "RECONNECT"
	TypeSubscribeParticipant Type = "SUBSCRIBE_PARTICIPANT"
)

// Envelope is the outer shape of every message on ws:{id} and every
// message exchanged over a client WebSocket connection.
type Envelope struct {
	Type      Type `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	State                *session.Session `json:"state,omitempty"`
	Version              int64            `json:"version,omitempty"`
	ExpiredParticipantID string           `json:"expired_participant_id,omitempty"`
	ActionApplied        string           `json:"action_applied,omitempty"`
	ClientTimestamp      int64            `json:"client_timestamp,omitempty"`
	ServerTimestamp      int64            `json:"server_timestamp,omitempty"`
	LastKnownVersion     int64            `json:"last_known_version,omitempty"`
	ReconnectAttempt     int              `json:"reconnect_attempt,omitempty"`
	ParticipantID        string           `json:"participant_id,omitempty"`
}

// StateUpdate builds a STATE_UPDATE envelope carrying the full new state.
func StateUpdate(state *session.Session) Envelope {
	return Envelope{Type: TypeStateUpdate, SessionID: state.SessionID, State: state, Version: state.Version}
}

// TimeExpired builds a TIME_EXPIRED envelope for the participant who ran out.
func TimeExpired(sessionID, participantID, action string) Envelope {
	return Envelope{Type: TypeTimeExpired, SessionID: sessionID, ExpiredParticipantID: participantID, ActionApplied: action}
}

// StateSync builds the STATE_SYNC reply to a client RECONNECT request.
func StateSync(state *session.Session) Envelope {
	return Envelope{Type: TypeStateSync, SessionID: state.SessionID, State: state, Version: state.Version}
}

// ReconnectAck builds a bare reconnection acknowledgement.
func ReconnectAck(sessionID string) Envelope {
	return Envelope{Type: TypeReconnectAck, SessionID: sessionID}
}

// Pong echoes the client's ping timestamp alongside the server's own.
func Pong(clientTs, serverTs int64) Envelope {
	return Envelope{Type: TypePong, ClientTimestamp: clientTs, ServerTimestamp: serverTs}
}
