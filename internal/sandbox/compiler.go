package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"game_host/internal/domain"
	"game_host/internal/logger"
)

// ClientEntryPoint имя функции, которую браузер вызывает для запуска клиента
const ClientEntryPoint = "bootstrap"

var clientEntryPattern = regexp.MustCompile(
	`(?m)(\bfunction\s+` + ClientEntryPoint + `\s*\()|(\b` + ClientEntryPoint + `\s*[:=]\s*(async\s+)?(function\b|\())|(\bexport\s+default\s+(async\s+)?function\b)`,
)

const defaultValidateTimeout = time.Second

// Compiler проверяет определения игр и превращает серверную логику в байткод
type Compiler struct {
	validateTimeout time.Duration
}

type CompilerOption func(*Compiler)

// WithValidateTimeout ограничивает время пробного запуска серверной логики
func WithValidateTimeout(d time.Duration) CompilerOption {
	return func(c *Compiler) { c.validateTimeout = d }
}

func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{validateTimeout: defaultValidateTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadedGame скомпилированная серверная логика. Неизменяема, безопасна для
// параллельного Instantiate: байткод разделяется, виртуальные машины нет.
type LoadedGame struct {
	name         string
	digest       string
	proto        *lua.FunctionProto
	moves        []string
	initialState []byte
}

func (g *LoadedGame) Name() string         { return g.name }
func (g *LoadedGame) Digest() string       { return g.digest }
func (g *LoadedGame) InitialState() []byte { return append([]byte(nil), g.initialState...) }

// Moves имена ходов в алфавитном порядке, включая зарезервированные
func (g *LoadedGame) Moves() []string { return append([]string(nil), g.moves...) }

// SourceDigest дайджест обоих сегментов исходника
func SourceDigest(src domain.Source) string {
	sum := sha256.Sum256([]byte(src.Client + "\x00" + src.Server))
	return hex.EncodeToString(sum[:])
}

// Compile проверяет оба сегмента и загружает серверную логику.
// Не запускает горутин и не трогает глобальное состояние процесса.
func (c *Compiler) Compile(name string, src domain.Source) (*LoadedGame, error) {
	if !clientEntryPattern.MatchString(src.Client) {
		return nil, missingEntryPoint(name, fmt.Sprintf("client segment does not define %q", ClientEntryPoint))
	}
	if strings.TrimSpace(src.Server) == "" {
		return nil, missingEntryPoint(name, "server logic segment is empty")
	}

	chunk, err := parse.Parse(strings.NewReader(src.Server), name)
	if err != nil {
		return nil, syntaxError(name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, syntaxError(name, err)
	}

	g := &LoadedGame{
		name:   name,
		digest: SourceDigest(src),
		proto:  proto,
	}

	inst, err := g.Instantiate(InstanceOptions{Timeout: c.validateTimeout, Logger: logger.Discard()})
	if err != nil {
		return nil, err
	}
	defer inst.Close()

	snap, err := inst.State().Snapshot()
	if err != nil {
		return nil, validationFailed(name, "initialState is not JSON representable", err)
	}
	g.initialState = snap
	for move := range inst.moves {
		g.moves = append(g.moves, move)
	}
	sort.Strings(g.moves)
	return g, nil
}

// InstanceOptions внедряемые источники времени и случайности
type InstanceOptions struct {
	Seed    uint64
	Clock   func() time.Time
	Logger  *slog.Logger
	Timeout time.Duration
}

// Instantiate создает модуль для одной комнаты в отдельной виртуальной машине
func (g *LoadedGame) Instantiate(opts InstanceOptions) (*Instance, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultValidateTimeout
	}
	inst := newInstance(g.name, opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	inst.L.SetContext(ctx)
	defer inst.L.RemoveContext()

	inst.L.Push(inst.L.NewFunctionFromProto(g.proto))
	if err := inst.L.PCall(0, 1, nil); err != nil {
		inst.Close()
		return nil, validationFailed(g.name, "server logic failed to load", err)
	}
	ret := inst.L.Get(-1)
	inst.L.Pop(1)

	if err := inst.bind(ret); err != nil {
		inst.Close()
		return nil, err
	}
	return inst, nil
}
