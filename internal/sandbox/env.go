package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	callStackSize   = 200
	registrySize    = 1024 * 4
	registryMaxSize = 1024 * 256

	// предел для string.rep, иначе один вызов съедает всю память
	maxRepeatBytes = 1 << 20
)

// разрешенные стандартные библиотеки; os, io, package, debug, channel и coroutine не открываются
var allowedLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// функции базовой библиотеки, дающие доступ к файлам, загрузке кода или окружению
var strippedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"getfenv", "setfenv", "collectgarbage", "newproxy", "_printregs", "print",
}

// hostEnv возможности хоста, доступные игровой логике
type hostEnv struct {
	log     *slog.Logger
	now     func() time.Time
	rng     *rand.Rand
	finish  func(winnerID *string, reason string)
	gameTag string
}

// newVM создает изолированную Lua-машину с минимальным набором возможностей
func newVM(env hostEnv) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       callStackSize,
		RegistrySize:        registrySize,
		RegistryMaxSize:     registryMaxSize,
		IncludeGoStackTrace: false,
	})
	for _, lib := range allowedLibs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range strippedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	if str, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		str.RawSetString("dump", lua.LNil)
		str.RawSetString("rep", L.NewFunction(boundedRepeat))
	}
	if m, ok := L.GetGlobal(lua.MathLibName).(*lua.LTable); ok {
		m.RawSetString("random", L.NewFunction(env.random))
		m.RawSetString("randomseed", L.NewFunction(env.randomSeed))
	}

	L.SetGlobal("log", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"debug": env.logAt(slog.LevelDebug),
		"info":  env.logAt(slog.LevelInfo),
		"warn":  env.logAt(slog.LevelWarn),
		"error": env.logAt(slog.LevelError),
	}))
	L.SetGlobal("print", L.NewFunction(env.logAt(slog.LevelDebug)))
	L.SetGlobal("clock", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"now": env.clockNow,
	}))
	L.SetGlobal("game", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"finish": env.finishGame,
	}))
	return L
}

func (e hostEnv) logAt(level slog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		if e.log != nil {
			e.log.Log(context.Background(), level, strings.Join(parts, " "), "source", "game")
		}
		return 0
	}
}

// clock.now() миллисекунды по внедренным часам
func (e hostEnv) clockNow(L *lua.LState) int {
	L.Push(lua.LNumber(e.now().UnixMilli()))
	return 1
}

// math.random с семантикой Lua 5.1, но на генераторе комнаты
func (e hostEnv) random(L *lua.LState) int {
	switch L.GetTop() {
	case 0:
		L.Push(lua.LNumber(e.rng.Float64()))
	case 1:
		hi := L.CheckInt64(1)
		if hi < 1 {
			L.ArgError(1, "interval is empty")
			return 0
		}
		L.Push(lua.LNumber(1 + e.rng.Int64N(hi)))
	default:
		lo, hi := L.CheckInt64(1), L.CheckInt64(2)
		if lo > hi {
			L.ArgError(2, "interval is empty")
			return 0
		}
		L.Push(lua.LNumber(lo + e.rng.Int64N(hi-lo+1)))
	}
	return 1
}

func (e hostEnv) randomSeed(L *lua.LState) int {
	seed := uint64(L.CheckInt64(1))
	*e.rng = *rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return 0
}

// game.finish(winnerId|nil, reason?)
func (e hostEnv) finishGame(L *lua.LState) int {
	var winner *string
	switch v := L.Get(1).(type) {
	case *lua.LNilType:
	case lua.LString:
		s := string(v)
		winner = &s
	default:
		L.ArgError(1, fmt.Sprintf("winner must be a string or nil, got %s", v.Type().String()))
		return 0
	}
	e.finish(winner, L.OptString(2, ""))
	return 0
}

func boundedRepeat(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	if n <= 0 || s == "" {
		L.Push(lua.LString(""))
		return 1
	}
	if n > maxRepeatBytes/len(s) {
		L.RaiseError("string.rep result exceeds %d bytes", maxRepeatBytes)
		return 0
	}
	L.Push(lua.LString(strings.Repeat(s, n)))
	return 1
}
