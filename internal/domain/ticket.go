package domain

import (
	"fmt"
	"time"
)

type TicketStatus string

const (
	TicketQueued  TicketStatus = "queued"
	TicketMatched TicketStatus = "matched"
	TicketExpired TicketStatus = "expired"
)

// MatchTicket заявка игрока на подбор комнаты
type MatchTicket struct {
	ID          string       `json:"id"`
	PlayerID    string       `json:"player_id"`
	GameName    string       `json:"game_name"`
	RequestedAt time.Time    `json:"requested_at"`
	Status      TicketStatus `json:"status"`
	RoomID      string       `json:"room_id,omitempty"`
	MatchedAt   time.Time    `json:"matched_at,omitempty"`
}

// Advance переводит тикет в новый статус; статус никогда не откатывается
func (t *MatchTicket) Advance(next TicketStatus) error {
	if t.Status == next {
		return nil
	}
	if t.Status == TicketExpired && next == TicketMatched {
		return ErrTicketExpired
	}
	if t.Status != TicketQueued {
		return fmt.Errorf("ticket %s: %s -> %s: %w", t.ID, t.Status, next, ErrTicketRegress)
	}
	t.Status = next
	return nil
}
