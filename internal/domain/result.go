package domain

import "time"

const (
	EndReasonWin       = "win"
	EndReasonDraw      = "draw"
	EndReasonAbandoned = "abandoned"
	EndReasonDestroyed = "destroyed"
)

// GameResult итог завершенной комнаты, создается ровно один раз
type GameResult struct {
	RoomID    string    `json:"room_id"`
	GameName  string    `json:"game_name"`
	Players   []string  `json:"players"`
	WinnerID  *string   `json:"winner_id"`
	EndReason string    `json:"end_reason"`
	EndedAt   time.Time `json:"ended_at"`
}

// Rated сообщает, участвует ли результат в пересчете рейтинга
func (r GameResult) Rated() bool {
	switch r.EndReason {
	case EndReasonWin:
		return r.WinnerID != nil && len(r.Players) >= 2
	case EndReasonDraw:
		return len(r.Players) >= 2
	}
	return false
}

// ResultHandoff отдается внешнему хранилищу после расчета рейтинга
type ResultHandoff struct {
	GameName      string         `json:"gameName"`
	RoomID        string         `json:"roomId"`
	WinnerID      *string        `json:"winnerId"`
	EndReason     string         `json:"endReason"`
	Players       []string       `json:"players"`
	RatingChanges []RatingChange `json:"ratingChanges"`
}
