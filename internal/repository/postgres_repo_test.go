package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"game_host/internal/db"
	"game_host/internal/domain"
)

// тесты против живой базы запускаются только при заданном TEST_DATABASE_URL
func newPostgresRepos(t *testing.T) (*RatingRepository, *ResultRepository) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRatingRepository(pool), NewResultRepository(pool)
}

func TestPostgresRatingsRoundTrip(t *testing.T) {
	ratings, _ := newPostgresRepos(t)
	ctx := context.Background()
	game := "duel-" + uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Millisecond)

	err := ratings.Save(ctx, []domain.PlayerRatingRecord{
		{PlayerID: "a", GameName: game, Rating: 1016, GamesPlayed: 1, Wins: 1, UpdatedAt: now},
		{PlayerID: "b", GameName: game, Rating: 984, GamesPlayed: 1, Losses: 1, UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := ratings.Get(ctx, game, []string{"a", "b", "ghost"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 || got["a"].Rating != 1016 || got["b"].Losses != 1 {
		t.Fatalf("unexpected records %+v", got)
	}
	top, err := ratings.Top(ctx, game, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].PlayerID != "a" {
		t.Fatalf("unexpected top %+v", top)
	}
}

func TestPostgresResultsHistory(t *testing.T) {
	_, results := newPostgresRepos(t)
	ctx := context.Background()
	game := "duel-" + uuid.NewString()[:8]
	res := domain.GameResult{RoomID: uuid.NewString(), GameName: game, Players: []string{"a", "b"}, EndReason: domain.EndReasonDraw, EndedAt: time.Now()}

	if err := results.Record(ctx, res, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := results.Record(ctx, res, nil); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	recent, err := results.Recent(ctx, game, 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].RoomID != res.RoomID || len(recent[0].Players) != 2 {
		t.Fatalf("unexpected history %+v", recent)
	}
}
