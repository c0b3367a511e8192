package domain

import (
	"encoding/json"
	"time"
)

type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// Seat место игрока в комнате
type Seat struct {
	PlayerID string    `json:"player_id"`
	Index    int       `json:"seat"`
	JoinedAt time.Time `json:"joined_at"`
}

// ActionEnvelope входящее действие игрока, живет до применения
type ActionEnvelope struct {
	RoomID   string          `json:"room_id"`
	PlayerID string          `json:"player_id"`
	MoveName string          `json:"moveName"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
