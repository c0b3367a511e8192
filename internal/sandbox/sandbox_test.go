package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"game_host/internal/domain"
	"game_host/internal/game"
)

const counterClient = `function bootstrap(root, send) { root.textContent = "counter"; }`

const counterServer = `
local M = {}
M.initialState = { count = 0, last = "" }
M.moves = {}

M.moves.bump = function(state, payload, playerId)
  state.count = state.count + (payload.by or 1)
  state.last = playerId
  if state.count >= 10 then
    game.finish(playerId, "win")
  end
end

M.moves.reset = function(state, payload, playerId)
  return { count = 0, last = playerId }
end

M.moves.explode = function(state, payload, playerId)
  state.count = 999
  error("boom")
end

M.moves.spin = function(state)
  while true do end
end

M.moves.roll = function(state)
  state.roll = math.random(1, 1000000)
end

M.moves.stamp = function(state)
  state.at = clock.now()
end

M.moves.caps = function(state)
  state.os = type(os)
  state.io = type(io)
  state.require = type(require)
  state.load = type(load)
  state.dofile = type(dofile)
  state.dump = type(string.dump)
end

M.moves.hog = function(state)
  state.big = string.rep("x", 2000000)
end

return M
`

func compileCounter(t *testing.T) *LoadedGame {
	t.Helper()
	g, err := NewCompiler().Compile("counter", domain.Source{Client: counterClient, Server: counterServer})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return g
}

func instantiate(t *testing.T, g *LoadedGame, opts InstanceOptions) *Instance {
	t.Helper()
	inst, err := g.Instantiate(opts)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	t.Cleanup(inst.Close)
	return inst
}

func call(t *testing.T, inst *Instance, move, payload, player string) error {
	t.Helper()
	h, ok := inst.Handlers()[move]
	if !ok {
		t.Fatalf("move %q not registered", move)
	}
	return h.Handle(context.Background(), inst.State(), game.Payload(payload), player)
}

func stateMap(t *testing.T, inst *Instance) map[string]any {
	t.Helper()
	snap, err := inst.State().Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(snap, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", snap, err)
	}
	return m
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		name string
		src  domain.Source
		want error
	}{
		{"no client entry", domain.Source{Client: "console.log(1)", Server: counterServer}, ErrMissingEntryPoint},
		{"empty server", domain.Source{Client: counterClient, Server: "   "}, ErrMissingEntryPoint},
		{"syntax", domain.Source{Client: counterClient, Server: "return {"}, ErrSyntax},
		{"not a table", domain.Source{Client: counterClient, Server: "return 42"}, ErrValidationFailed},
		{"no moves", domain.Source{Client: counterClient, Server: "return { initialState = {} }"}, ErrValidationFailed},
		{"no initial state", domain.Source{Client: counterClient, Server: "return { moves = {} }"}, ErrValidationFailed},
		{"move not function", domain.Source{Client: counterClient, Server: "return { initialState = {}, moves = { a = 1 } }"}, ErrValidationFailed},
		{"load error", domain.Source{Client: counterClient, Server: "error('nope')"}, ErrValidationFailed},
		{"load forbidden lib", domain.Source{Client: counterClient, Server: "os.exit(1)"}, ErrValidationFailed},
		{"top level loop", domain.Source{Client: counterClient, Server: "while true do end"}, ErrValidationFailed},
	}
	c := NewCompiler(WithValidateTimeout(50 * time.Millisecond))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compile("broken", tc.src)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var ce *CompileError
			if !errors.As(err, &ce) || ce.Game != "broken" {
				t.Fatalf("expected *CompileError for game broken, got %#v", err)
			}
		})
	}
}

func TestClientEntryPointForms(t *testing.T) {
	forms := []string{
		"function bootstrap(root) {}",
		"const bootstrap = (root) => {}",
		"window.bootstrap = function (root) {}",
		"export default function (root) {}",
		"const api = { bootstrap: async function () {} }",
	}
	for _, f := range forms {
		if !clientEntryPattern.MatchString(f) {
			t.Fatalf("expected entry point in %q", f)
		}
	}
	if clientEntryPattern.MatchString("bootstrapper()") {
		t.Fatal("bootstrapper must not count as entry point")
	}
}

func TestCompileIsIdempotent(t *testing.T) {
	a := compileCounter(t)
	b := compileCounter(t)
	if a.Digest() != b.Digest() {
		t.Fatalf("digest differs: %s vs %s", a.Digest(), b.Digest())
	}
	if string(a.InitialState()) != string(b.InitialState()) {
		t.Fatalf("initial state differs: %s vs %s", a.InitialState(), b.InitialState())
	}
	if string(a.InitialState()) != `{"count":0,"last":""}` {
		t.Fatalf("unexpected initial state %s", a.InitialState())
	}
	moves := strings.Join(a.Moves(), ",")
	if moves != "bump,caps,explode,hog,reset,roll,spin,stamp" {
		t.Fatalf("unexpected moves %s", moves)
	}
}

func TestHandlerMutatesAndReplacesState(t *testing.T) {
	inst := instantiate(t, compileCounter(t), InstanceOptions{})

	if err := call(t, inst, "bump", `{"by":3}`, "alice"); err != nil {
		t.Fatalf("bump: %v", err)
	}
	st := stateMap(t, inst)
	if st["count"] != float64(3) || st["last"] != "alice" {
		t.Fatalf("unexpected state %v", st)
	}

	if err := call(t, inst, "reset", `null`, "bob"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st = stateMap(t, inst)
	if st["count"] != float64(0) || st["last"] != "bob" {
		t.Fatalf("unexpected state after reset %v", st)
	}
}

func TestStrippedCapabilities(t *testing.T) {
	inst := instantiate(t, compileCounter(t), InstanceOptions{})
	if err := call(t, inst, "caps", `null`, "p"); err != nil {
		t.Fatalf("caps: %v", err)
	}
	st := stateMap(t, inst)
	for _, k := range []string{"os", "io", "require", "load", "dofile", "dump"} {
		if st[k] != "nil" {
			t.Fatalf("%s should be unavailable, got %v", k, st[k])
		}
	}
}

func TestInstancesAreIsolated(t *testing.T) {
	g := compileCounter(t)
	a := instantiate(t, g, InstanceOptions{})
	b := instantiate(t, g, InstanceOptions{})

	if err := call(t, a, "bump", `{"by":5}`, "alice"); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if st := stateMap(t, b); st["count"] != float64(0) {
		t.Fatalf("instance b observed a's state: %v", st)
	}
}

func TestInfiniteLoopTimesOut(t *testing.T) {
	inst := instantiate(t, compileCounter(t), InstanceOptions{Timeout: 30 * time.Millisecond})
	start := time.Now()
	if err := call(t, inst, "spin", `null`, "p"); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout took too long: %v", time.Since(start))
	}
	// машина остается пригодной после прерывания
	if err := call(t, inst, "bump", `null`, "p"); err != nil {
		t.Fatalf("bump after timeout: %v", err)
	}
}

func TestSeededRandomIsDeterministic(t *testing.T) {
	g := compileCounter(t)
	roll := func(seed uint64) any {
		inst := instantiate(t, g, InstanceOptions{Seed: seed})
		if err := call(t, inst, "roll", `null`, "p"); err != nil {
			t.Fatalf("roll: %v", err)
		}
		return stateMap(t, inst)["roll"]
	}
	if roll(7) != roll(7) {
		t.Fatal("same seed must give same roll")
	}
}

func TestInjectedClock(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	inst := instantiate(t, compileCounter(t), InstanceOptions{Clock: func() time.Time { return fixed }})
	if err := call(t, inst, "stamp", `null`, "p"); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	if got := stateMap(t, inst)["at"]; got != float64(1700000000123) {
		t.Fatalf("unexpected clock value %v", got)
	}
}

func TestGameFinishSetsOutcome(t *testing.T) {
	inst := instantiate(t, compileCounter(t), InstanceOptions{})
	if err := call(t, inst, "bump", `{"by":10}`, "alice"); err != nil {
		t.Fatalf("bump: %v", err)
	}
	out := inst.TakeOutcome()
	if out == nil || out.WinnerID == nil || *out.WinnerID != "alice" || out.Reason != "win" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if inst.TakeOutcome() != nil {
		t.Fatal("outcome must be cleared after take")
	}
}

func TestStringRepIsBounded(t *testing.T) {
	inst := instantiate(t, compileCounter(t), InstanceOptions{})
	if err := call(t, inst, "hog", `null`, "p"); err == nil {
		t.Fatal("expected string.rep to be rejected")
	}
}

func TestFaultRestoresStateInRoom(t *testing.T) {
	g := compileCounter(t)
	inst, err := g.Instantiate(InstanceOptions{})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	def := domain.GameDefinition{Name: "counter", MinPlayers: 1, MaxPlayers: 1}
	room, err := game.NewRoom("r1", def, inst)
	if err != nil {
		t.Fatalf("new room: %v", err)
	}
	defer room.Close()

	ctx := context.Background()
	if _, err := room.Join(ctx, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := room.ApplyAction(ctx, "alice", "bump", game.Payload(`{"by":2}`)); err != nil {
		t.Fatalf("bump: %v", err)
	}
	before := string(room.Snapshot())

	_, err = room.ApplyAction(ctx, "alice", "explode", nil)
	var fault *game.ActionFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected ActionFault, got %v", err)
	}
	if string(room.Snapshot()) != before {
		t.Fatalf("snapshot changed after fault: %s", room.Snapshot())
	}
	if st := stateMap(t, inst); st["count"] != float64(2) {
		t.Fatalf("live state not restored: %v", st)
	}
	if room.Phase() != domain.PhaseActive {
		t.Fatalf("room must stay active, got %s", room.Phase())
	}
}

func TestSharedTablesAreBounded(t *testing.T) {
	cases := map[string]string{
		"cyclic": `local t = {} t.self = t
return { initialState = t, moves = {} }`,
		"exponential sharing": `local t = {} for i = 1, 40 do t = { a = t, b = t } end
return { initialState = t, moves = {} }`,
	}
	for name, server := range cases {
		t.Run(name, func(t *testing.T) {
			done := make(chan error, 1)
			go func() {
				_, err := NewCompiler().Compile(name, domain.Source{Client: counterClient, Server: server})
				done <- err
			}()
			select {
			case err := <-done:
				if !errors.Is(err, ErrValidationFailed) {
					t.Fatalf("expected ErrValidationFailed, got %v", err)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("compile did not return")
			}
		})
	}
}

func TestSharedStateFromHandlerFaults(t *testing.T) {
	const server = `
return {
  initialState = { n = 0 },
  moves = {
    blowup = function(state)
      local t = {} for i = 1, 40 do t = { a = t, b = t } end
      state.tree = t
    end,
  },
}`
	g, err := NewCompiler().Compile("dag", domain.Source{Client: counterClient, Server: server})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	inst := instantiate(t, g, InstanceOptions{})
	if err := call(t, inst, "blowup", `null`, "p"); err != nil {
		t.Fatalf("blowup: %v", err)
	}
	start := time.Now()
	if _, err := inst.State().Snapshot(); err == nil {
		t.Fatal("expected snapshot of shared tree to be rejected")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("snapshot took %s", time.Since(start))
	}
}

const gridServer = `
return {
  initialState = { cells = {}, seen = "" },
  moves = {
    set = function(state, payload) state.cells[payload.i] = "X" end,
    bad = function(state) state.cells = nil error("bad move") end,
    look = function(state, payload) state.seen = tostring(state.cells[payload.i]) end,
  },
}`

func TestFaultKeepsKeyTypes(t *testing.T) {
	g, err := NewCompiler().Compile("grid", domain.Source{Client: counterClient, Server: gridServer})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	play := func(moves ...string) string {
		inst, err := g.Instantiate(InstanceOptions{})
		if err != nil {
			t.Fatalf("instantiate: %v", err)
		}
		room, err := game.NewRoom("grid", domain.GameDefinition{Name: "grid", MinPlayers: 1, MaxPlayers: 1}, inst)
		if err != nil {
			t.Fatalf("new room: %v", err)
		}
		defer room.Close()
		ctx := context.Background()
		if _, err := room.Join(ctx, "p"); err != nil {
			t.Fatalf("join: %v", err)
		}
		for _, m := range moves {
			_, _ = room.ApplyAction(ctx, "p", m, game.Payload(`{"i":5}`))
		}
		return string(room.Snapshot())
	}

	clean := play("set", "look")
	faulted := play("set", "bad", "look")
	if clean != faulted {
		t.Fatalf("fault changed later behaviour:\n clean   %s\n faulted %s", clean, faulted)
	}
	if !strings.Contains(clean, `"seen":"X"`) {
		t.Fatalf("unexpected state %s", clean)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	g := compileCounter(t)
	sequence := []struct{ move, payload string }{
		{"bump", `{"by":2}`},
		{"roll", `null`},
		{"explode", `null`},
		{"stamp", `null`},
		{"roll", `null`},
		{"bump", `{"by":3}`},
		{"stamp", `null`},
	}
	replay := func() []byte {
		tick := time.UnixMilli(1700000000000)
		clock := func() time.Time {
			tick = tick.Add(250 * time.Millisecond)
			return tick
		}
		inst, err := g.Instantiate(InstanceOptions{Seed: 42, Clock: clock})
		if err != nil {
			t.Fatalf("instantiate: %v", err)
		}
		room, err := game.NewRoom("replay", domain.GameDefinition{Name: "counter", MinPlayers: 1, MaxPlayers: 1}, inst)
		if err != nil {
			t.Fatalf("new room: %v", err)
		}
		defer room.Close()
		ctx := context.Background()
		if _, err := room.Join(ctx, "alice"); err != nil {
			t.Fatalf("join: %v", err)
		}
		faults := 0
		for _, a := range sequence {
			if _, err := room.ApplyAction(ctx, "alice", a.move, game.Payload(a.payload)); err != nil {
				faults++
			}
		}
		if faults != 1 {
			t.Fatalf("expected one fault, got %d", faults)
		}
		return append([]byte(nil), room.Snapshot()...)
	}

	first, second := replay(), replay()
	if string(first) != string(second) {
		t.Fatalf("replays diverged:\n %s\n %s", first, second)
	}
	var st map[string]any
	if err := json.Unmarshal(first, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st["count"] != float64(5) || st["roll"] == nil || st["at"] == nil {
		t.Fatalf("unexpected final state %s", first)
	}
}
