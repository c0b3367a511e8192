package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"game_host/internal/domain"
	"game_host/internal/logger"
	"game_host/internal/rating"
)

type staticGames map[string]domain.GameDefinition

func (g staticGames) Definition(_ context.Context, name string) (domain.GameDefinition, error) {
	def, ok := g[name]
	if !ok {
		return domain.GameDefinition{}, domain.ErrUnknownGame
	}
	return def, nil
}

type captured struct {
	mu       sync.Mutex
	handoffs []domain.ResultHandoff
	recorded []string
}

func (c *captured) Publish(_ context.Context, h domain.ResultHandoff) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handoffs = append(c.handoffs, h)
	return nil
}

func (c *captured) Record(_ context.Context, res domain.GameResult, _ []domain.RatingChange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorded = append(c.recorded, res.RoomID)
	return nil
}

func (c *captured) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handoffs)
}

var testGames = staticGames{
	"duel":  {Name: "duel", MinPlayers: 2, MaxPlayers: 2, HasWinCondition: true},
	"chill": {Name: "chill", MinPlayers: 2, MaxPlayers: 8},
}

func newSettlement(store rating.Store, c *captured) *SettlementService {
	return NewSettlementService(store, testGames, WithRecorder(c), WithHandoff(c), WithSettlementLogger(logger.Discard()))
}

func win(room, game, winner string, players ...string) domain.GameResult {
	w := winner
	return domain.GameResult{RoomID: room, GameName: game, Players: players, WinnerID: &w, EndReason: domain.EndReasonWin, EndedAt: time.Now()}
}

func TestSettleUpdatesRatings(t *testing.T) {
	store := rating.NewMemoryStore()
	c := &captured{}
	s := newSettlement(store, c)
	ctx := context.Background()

	h, err := s.Settle(ctx, win("r1", "duel", "a", "a", "b"))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(h.RatingChanges) != 2 || h.RatingChanges[0].Delta != 16 || h.RatingChanges[1].Delta != -16 {
		t.Fatalf("unexpected changes %+v", h.RatingChanges)
	}
	got, _ := store.Get(ctx, "duel", []string{"a", "b"})
	if got["a"].Rating != 1016 || got["b"].Rating != 984 || got["a"].Wins != 1 || got["b"].Losses != 1 {
		t.Fatalf("unexpected stored ratings %+v", got)
	}
	if c.count() != 1 || len(c.recorded) != 1 {
		t.Fatalf("expected handoff and record, got %d/%d", c.count(), len(c.recorded))
	}
}

func TestSettleSkipsUnratedResults(t *testing.T) {
	store := rating.NewMemoryStore()
	c := &captured{}
	s := newSettlement(store, c)
	ctx := context.Background()

	cases := []domain.GameResult{
		win("r1", "chill", "a", "a", "b"),
		{RoomID: "r2", GameName: "duel", Players: []string{"a", "b"}, EndReason: domain.EndReasonAbandoned},
		{RoomID: "r3", GameName: "duel", Players: []string{"a", "b"}, EndReason: domain.EndReasonDestroyed},
		win("r4", "duel", "a", "a"),
	}
	for _, res := range cases {
		h, err := s.Settle(ctx, res)
		if err != nil {
			t.Fatalf("%s: %v", res.RoomID, err)
		}
		if len(h.RatingChanges) != 0 {
			t.Fatalf("%s must not be rated: %+v", res.RoomID, h.RatingChanges)
		}
	}
	top, _ := store.Top(ctx, "duel", 10)
	if len(top) != 0 {
		t.Fatalf("store must stay empty, got %+v", top)
	}
	if c.count() != len(cases) {
		t.Fatalf("every result is handed off, got %d", c.count())
	}
}

func TestSettleUnknownGame(t *testing.T) {
	s := newSettlement(rating.NewMemoryStore(), &captured{})
	_, err := s.Settle(context.Background(), win("r", "ghost", "a", "a", "b"))
	if !errors.Is(err, domain.ErrUnknownGame) {
		t.Fatalf("expected ErrUnknownGame, got %v", err)
	}
}

func TestRunProcessesSequentially(t *testing.T) {
	store := rating.NewMemoryStore()
	c := &captured{}
	s := newSettlement(store, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	const games = 20
	for i := 0; i < games; i++ {
		s.Enqueue(win("r", "duel", "a", "a", "b"))
	}
	deadline := time.Now().Add(3 * time.Second)
	for c.count() < games && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got, _ := store.Get(context.Background(), "duel", []string{"a", "b"})
	if got["a"].GamesPlayed != games || got["a"].Rating+got["b"].Rating != 2000 {
		t.Fatalf("lost update or non zero-sum: %+v", got)
	}
}
