package sandbox

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	lua "github.com/yuin/gopher-lua"

	"game_host/internal/game"
	"game_host/internal/logger"
)

// Instance серверная логика одной комнаты. Реализует game.Module.
// Не потокобезопасна: вызывается только из дорожки комнаты.
type Instance struct {
	name     string
	L        *lua.LState
	state    lua.LValue
	moves    map[string]*lua.LFunction
	handlers map[string]game.Handler
	outcome  *game.Outcome
	timeout  time.Duration
	closed   bool
}

var _ game.Module = (*Instance)(nil)

func newInstance(name string, opts InstanceOptions) *Instance {
	inst := &Instance{name: name, timeout: opts.Timeout}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	inst.L = newVM(hostEnv{
		log:     logger.OrDefault(opts.Logger),
		now:     opts.Clock,
		rng:     rng,
		finish:  inst.setOutcome,
		gameTag: name,
	})
	return inst
}

// bind извлекает initialState и moves из значения, возвращенного скриптом
func (i *Instance) bind(ret lua.LValue) error {
	mod, ok := ret.(*lua.LTable)
	if !ok {
		return validationFailed(i.name, fmt.Sprintf("server logic must return a table, got %s", ret.Type().String()), nil)
	}

	initial := mod.RawGetString("initialState")
	if initial == lua.LNil {
		return validationFailed(i.name, "server logic has no initialState", nil)
	}
	if _, err := encodeValue(initial); err != nil {
		return validationFailed(i.name, "initialState is not JSON representable", err)
	}

	movesTable, ok := mod.RawGetString("moves").(*lua.LTable)
	if !ok {
		return validationFailed(i.name, "server logic has no moves table", nil)
	}
	moves := make(map[string]*lua.LFunction)
	var bad error
	movesTable.ForEach(func(k, v lua.LValue) {
		if bad != nil {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			bad = validationFailed(i.name, fmt.Sprintf("move key must be a string, got %s", k.Type().String()), nil)
			return
		}
		fn, ok := v.(*lua.LFunction)
		if !ok {
			bad = validationFailed(i.name, fmt.Sprintf("move %q is not a function", string(name)), nil)
			return
		}
		moves[string(name)] = fn
	})
	if bad != nil {
		return bad
	}

	i.state = initial
	i.moves = moves
	i.handlers = make(map[string]game.Handler, len(moves))
	for name, fn := range moves {
		i.handlers[name] = &luaHandler{inst: i, name: name, fn: fn}
	}
	return nil
}

func (i *Instance) State() game.StateHandle {
	return stateHandle{inst: i}
}

func (i *Instance) Handlers() map[string]game.Handler {
	return i.handlers
}

func (i *Instance) TakeOutcome() *game.Outcome {
	out := i.outcome
	i.outcome = nil
	return out
}

func (i *Instance) Close() {
	if i.closed {
		return
	}
	i.closed = true
	i.L.Close()
}

func (i *Instance) setOutcome(winnerID *string, reason string) {
	i.outcome = &game.Outcome{WinnerID: winnerID, Reason: reason}
}

type stateHandle struct {
	inst *Instance
}

func (s stateHandle) Snapshot() ([]byte, error) {
	return encodeValue(s.inst.state)
}

func (s stateHandle) Restore(snapshot []byte) error {
	v, err := decodeValue(s.inst.L, snapshot)
	if err != nil {
		return err
	}
	s.inst.state = v
	return nil
}

// Checkpoint копирует состояние внутри машины; откат подменяет состояние копией
func (s stateHandle) Checkpoint() func() {
	saved := cloneValue(s.inst.L, s.inst.state, make(map[*lua.LTable]*lua.LTable))
	return func() { s.inst.state = saved }
}

// luaHandler ход, реализованный функцией Lua: moves[name](state, payload, playerId)
type luaHandler struct {
	inst *Instance
	name string
	fn   *lua.LFunction
}

// Handle вызывает функцию хода под дедлайном. Ход может менять state на месте
// или вернуть новое значение; не-nil результат заменяет состояние.
func (h *luaHandler) Handle(ctx context.Context, _ game.StateHandle, payload game.Payload, playerID string) error {
	inst := h.inst
	if inst.closed {
		return fmt.Errorf("module %s is closed", inst.name)
	}

	args := []lua.LValue{inst.state}
	if h.name != game.MoveTick {
		arg, err := decodeValue(inst.L, payload)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		args = append(args, arg, lua.LString(playerID))
	}

	ctx, cancel := context.WithTimeout(ctx, inst.timeout)
	defer cancel()
	inst.L.SetContext(ctx)
	defer inst.L.RemoveContext()

	if err := inst.L.CallByParam(lua.P{Fn: h.fn, NRet: 1, Protect: true}, args...); err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	ret := inst.L.Get(-1)
	inst.L.Pop(1)
	if ret != lua.LNil {
		inst.state = ret
	}
	return nil
}
