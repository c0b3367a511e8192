package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game_host/internal/domain"
)

type RatingRepository struct {
	db *pgxpool.Pool
}

func NewRatingRepository(db *pgxpool.Pool) *RatingRepository {
	return &RatingRepository{db: db}
}

// Получает записи рейтинга игроков одной игры
func (r *RatingRepository) Get(ctx context.Context, gameName string, playerIDs []string) (map[string]domain.PlayerRatingRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT player_id, game_name, rating, games_played, wins, losses, draws, updated_at
		 FROM player_ratings
		 WHERE game_name = $1 AND player_id = ANY($2)`,
		gameName, playerIDs,
	)
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.PlayerRatingRecord])
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.PlayerRatingRecord, len(records))
	for _, rec := range records {
		out[rec.PlayerID] = rec
	}
	return out, nil
}

// Сохраняет записи одной транзакцией
func (r *RatingRepository) Save(ctx context.Context, records []domain.PlayerRatingRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := r.SaveWithTx(ctx, tx, records); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Сохраняет записи внутри существующей транзакции
func (r *RatingRepository) SaveWithTx(ctx context.Context, tx pgx.Tx, records []domain.PlayerRatingRecord) error {
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(
			`INSERT INTO player_ratings (player_id, game_name, rating, games_played, wins, losses, draws, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (game_name, player_id) DO UPDATE SET
			   rating = EXCLUDED.rating,
			   games_played = EXCLUDED.games_played,
			   wins = EXCLUDED.wins,
			   losses = EXCLUDED.losses,
			   draws = EXCLUDED.draws,
			   updated_at = EXCLUDED.updated_at`,
			rec.PlayerID, rec.GameName, rec.Rating, rec.GamesPlayed, rec.Wins, rec.Losses, rec.Draws, rec.UpdatedAt,
		)
	}
	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("save rating: %w", err)
		}
	}
	return results.Close()
}

// Лучшие игроки игры по рейтингу
func (r *RatingRepository) Top(ctx context.Context, gameName string, limit int) ([]domain.PlayerRatingRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT player_id, game_name, rating, games_played, wins, losses, draws, updated_at
		 FROM player_ratings
		 WHERE game_name = $1
		 ORDER BY rating DESC, player_id
		 LIMIT $2`,
		gameName, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[domain.PlayerRatingRecord])
}
