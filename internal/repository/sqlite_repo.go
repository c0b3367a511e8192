package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"game_host/internal/domain"
)

// SQLiteRepository рейтинги и история партий в локальной базе (режим одного узла)
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (r *SQLiteRepository) Get(ctx context.Context, gameName string, playerIDs []string) (map[string]domain.PlayerRatingRecord, error) {
	out := make(map[string]domain.PlayerRatingRecord, len(playerIDs))
	if len(playerIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(playerIDs)+1)
	args = append(args, gameName)
	for _, p := range playerIDs {
		args = append(args, p)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(playerIDs)), ",")

	rows, err := r.db.QueryContext(ctx,
		`SELECT player_id, game_name, rating, games_played, wins, losses, draws, updated_at
		 FROM player_ratings
		 WHERE game_name = ? AND player_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		out[rec.PlayerID] = rec
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Save(ctx context.Context, records []domain.PlayerRatingRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO player_ratings (player_id, game_name, rating, games_played, wins, losses, draws, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (game_name, player_id) DO UPDATE SET
			   rating = excluded.rating,
			   games_played = excluded.games_played,
			   wins = excluded.wins,
			   losses = excluded.losses,
			   draws = excluded.draws,
			   updated_at = excluded.updated_at`,
			rec.PlayerID, rec.GameName, rec.Rating, rec.GamesPlayed, rec.Wins, rec.Losses, rec.Draws, toMillis(rec.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("save rating %s/%s: %w", rec.GameName, rec.PlayerID, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) Top(ctx context.Context, gameName string, limit int) ([]domain.PlayerRatingRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT player_id, game_name, rating, games_played, wins, losses, draws, updated_at
		 FROM player_ratings
		 WHERE game_name = ?
		 ORDER BY rating DESC, player_id
		 LIMIT ?`,
		gameName, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PlayerRatingRecord
	for rows.Next() {
		rec, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Record записывает итог партии; повторная запись той же комнаты игнорируется
func (r *SQLiteRepository) Record(ctx context.Context, result domain.GameResult, changes []domain.RatingChange) error {
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
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO game_results (room_id, game_name, players, winner_id, end_reason, rating_changes, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (room_id) DO NOTHING`,
		result.RoomID, result.GameName, string(players), result.WinnerID, result.EndReason, string(changesJSON), toMillis(result.EndedAt),
	)
	return err
}

func (r *SQLiteRepository) Recent(ctx context.Context, gameName string, limit int) ([]StoredResult, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT room_id, game_name, players, winner_id, end_reason, rating_changes, ended_at
		 FROM game_results
		 WHERE game_name = ?
		 ORDER BY ended_at DESC
		 LIMIT ?`,
		gameName, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		var res StoredResult
		var players, changes string
		var winner sql.NullString
		var ended int64
		if err := rows.Scan(&res.RoomID, &res.GameName, &players, &winner, &res.EndReason, &changes, &ended); err != nil {
			return nil, err
		}
		if winner.Valid {
			w := winner.String
			res.WinnerID = &w
		}
		res.EndedAt = fromMillis(ended)
		if err := json.Unmarshal([]byte(players), &res.Players); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(changes), &res.RatingChanges); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanRating(rows *sql.Rows) (domain.PlayerRatingRecord, error) {
	var rec domain.PlayerRatingRecord
	var updated int64
	err := rows.Scan(&rec.PlayerID, &rec.GameName, &rec.Rating, &rec.GamesPlayed, &rec.Wins, &rec.Losses, &rec.Draws, &updated)
	rec.UpdatedAt = fromMillis(updated)
	return rec, err
}
