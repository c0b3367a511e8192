package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"game_host/internal/domain"
	"game_host/internal/logger"
	"game_host/internal/sandbox"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(NewDirLoader("testdata/games"), sandbox.NewCompiler(), logger.Discard())
}

func TestDirLoaderLoad(t *testing.T) {
	def, err := NewDirLoader("testdata/games").Load(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.Name != "lobby" || def.ID != "lobby" {
		t.Fatalf("name/id not defaulted: %+v", def)
	}
	if def.MinPlayers != 2 || def.MaxPlayers != 4 || !def.CanJoinLate || def.HasWinCondition {
		t.Fatalf("unexpected metadata: %+v", def)
	}
	if !strings.Contains(def.Source.Server, "initialState") {
		t.Fatal("server source not loaded")
	}
}

func TestDirLoaderUnknownGame(t *testing.T) {
	l := NewDirLoader("testdata/games")
	for _, name := range []string{"missing", "../games", ".hidden", ""} {
		if _, err := l.Load(context.Background(), name); !errors.Is(err, domain.ErrUnknownGame) {
			t.Fatalf("%q: expected ErrUnknownGame, got %v", name, err)
		}
	}
}

func TestDirLoaderRejectsBadMetadata(t *testing.T) {
	fsys := fstest.MapFS{
		"bad/game.yaml":  {Data: []byte("min_players: 3\nmax_players: 2\n")},
		"bad/client.js":  {Data: []byte("function bootstrap() {}")},
		"bad/server.lua": {Data: []byte("return {}")},
	}
	if _, err := NewFSLoader(fsys).Load(context.Background(), "bad"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDirLoaderList(t *testing.T) {
	names, err := NewDirLoader("testdata/games").List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(names, ",") != "broken,lobby,tictactoe" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestRegistryCachesCompiledGame(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a, err := r.Get(ctx, "tictactoe")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, err := r.Get(ctx, "tictactoe")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if a != b {
		t.Fatal("expected cached entry")
	}
	c, err := r.Reload(ctx, "tictactoe")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c != a {
		t.Fatal("unchanged source must keep cached entry")
	}
}

func TestRegistryRejectsBrokenGame(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get(context.Background(), "broken")
	if !errors.Is(err, sandbox.ErrMissingEntryPoint) {
		t.Fatalf("expected missing entry point, got %v", err)
	}
}

func TestRegistryPreloadSkipsBroken(t *testing.T) {
	r := newTestRegistry(t)
	loaded, err := r.Preload(context.Background())
	if err != nil {
		t.Fatalf("preload: %v", err)
	}
	if strings.Join(loaded, ",") != "lobby,tictactoe" {
		t.Fatalf("unexpected loaded set %v", loaded)
	}
}

type countingLoader struct {
	Loader
	loads int
}

func (l *countingLoader) Load(ctx context.Context, name string) (domain.GameDefinition, error) {
	l.loads++
	return l.Loader.Load(ctx, name)
}

func TestRegistryCachesRejectedSource(t *testing.T) {
	fsys := fstest.MapFS{
		"dice/game.yaml":  {Data: []byte("name: dice\nmin_players: 1\nmax_players: 2\n")},
		"dice/client.js":  {Data: []byte("console.log('no entry')")},
		"dice/server.lua": {Data: []byte("return { initialState = { n = 0 }, moves = { roll = function(state) state.n = state.n + 1 end } }")},
	}
	loader := &countingLoader{Loader: NewFSLoader(fsys)}
	r := NewRegistry(loader, sandbox.NewCompiler(), logger.Discard())
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	_, first := r.Get(ctx, "dice")
	if !errors.Is(first, sandbox.ErrMissingEntryPoint) {
		t.Fatalf("expected missing entry point, got %v", first)
	}
	for i := 0; i < 5; i++ {
		if _, err := r.Get(ctx, "dice"); err != first {
			t.Fatalf("expected cached error, got %v", err)
		}
	}
	if loader.loads != 1 {
		t.Fatalf("broken game re-read %d times", loader.loads)
	}

	// после TTL исходники перечитываются, но неизменный дайджест не компилируется
	now = now.Add(failureTTL)
	if _, err := r.Get(ctx, "dice"); err != first {
		t.Fatalf("unchanged source must return the same error, got %v", err)
	}
	if loader.loads != 2 {
		t.Fatalf("expected reload after ttl, loads=%d", loader.loads)
	}

	fsys["dice/client.js"] = &fstest.MapFile{Data: []byte("function bootstrap() {}")}
	if _, err := r.Get(ctx, "dice"); err != first {
		t.Fatalf("within ttl the cached error stays, got %v", err)
	}
	e, err := r.Reload(ctx, "dice")
	if err != nil {
		t.Fatalf("fixed source must compile: %v", err)
	}
	if got, err := r.Get(ctx, "dice"); err != nil || got != e {
		t.Fatalf("expected compiled entry, got %v %v", got, err)
	}
}

func TestRegistryCachesUnknownGame(t *testing.T) {
	loader := &countingLoader{Loader: NewDirLoader("testdata/games")}
	r := NewRegistry(loader, sandbox.NewCompiler(), logger.Discard())
	for i := 0; i < 3; i++ {
		if _, err := r.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrUnknownGame) {
			t.Fatalf("expected ErrUnknownGame, got %v", err)
		}
	}
	if loader.loads != 1 {
		t.Fatalf("unknown game re-read %d times", loader.loads)
	}
}
