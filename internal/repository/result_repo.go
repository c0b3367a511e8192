package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"game_host/internal/domain"
)

// StoredResult запись истории партий
type StoredResult struct {
	RoomID        string                `json:"room_id"`
	GameName      string                `json:"game_name"`
	Players       []string              `json:"players"`
	WinnerID      *string               `json:"winner_id"`
	EndReason     string                `json:"end_reason"`
	RatingChanges []domain.RatingChange `json:"rating_changes"`
	EndedAt       time.Time             `json:"ended_at"`
}

type ResultRepository struct {
	db *pgxpool.Pool
}

func NewResultRepository(db *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{db: db}
}

// Записывает итог партии; повторная запись той же комнаты игнорируется
func (r *ResultRepository) Record(ctx context.Context, result domain.GameResult, changes []domain.RatingChange) error {
	players, err := json.Marshal(result.Players)
	if err != nil {
		return err
	}
	if changes == nil {
		changes = []domain.RatingChange{}
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO game_results (room_id, game_name, players, winner_id, end_reason, rating_changes, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (room_id) DO NOTHING`,
		result.RoomID, result.GameName, players, result.WinnerID, result.EndReason, changesJSON, result.EndedAt,
	)
	return err
}

// Последние партии игры
func (r *ResultRepository) Recent(ctx context.Context, gameName string, limit int) ([]StoredResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT room_id, game_name, players, winner_id, end_reason, rating_changes, ended_at
		 FROM game_results
		 WHERE game_name = $1
		 ORDER BY ended_at DESC
		 LIMIT $2`,
		gameName, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		var res StoredResult
		var players, changes []byte
		if err := rows.Scan(&res.RoomID, &res.GameName, &players, &res.WinnerID, &res.EndReason, &changes, &res.EndedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(players, &res.Players); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(changes, &res.RatingChanges); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
