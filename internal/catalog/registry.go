package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"game_host/internal/domain"
	"game_host/internal/logger"
	"game_host/internal/metrics"
	"game_host/internal/sandbox"
)

// Entry определение игры вместе с проверенной серверной логикой
type Entry struct {
	Definition domain.GameDefinition
	Game       *sandbox.LoadedGame
}

// Registry кеширует скомпилированные игры. Перекомпиляция происходит только
// при изменении исходников (сравнение по дайджесту).
type Registry struct {
	loader   Loader
	compiler *sandbox.Compiler
	log      *slog.Logger

	now func() time.Time

	mu       sync.RWMutex
	entries  map[string]*Entry
	failures map[string]*failure
}

// failureTTL сколько Get отдает закешированную ошибку, не перечитывая исходники
const failureTTL = 30 * time.Second

// failure отрицательный результат загрузки; digest пуст, если не удалось прочитать исходники
type failure struct {
	digest string
	err    error
	at     time.Time
}

func NewRegistry(loader Loader, compiler *sandbox.Compiler, log *slog.Logger) *Registry {
	return &Registry{
		loader:   loader,
		compiler: compiler,
		log:      logger.OrDefault(log),
		now:      time.Now,
		entries:  make(map[string]*Entry),
		failures: make(map[string]*failure),
	}
}

// Get возвращает игру из кеша или загружает и компилирует ее
func (r *Registry) Get(ctx context.Context, name string) (*Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	var cached error
	if f := r.failures[name]; !ok && f != nil && r.now().Sub(f.at) < failureTTL {
		cached = f.err
	}
	r.mu.RUnlock()
	if ok {
		return e, nil
	}
	if cached != nil {
		return nil, cached
	}
	return r.Reload(ctx, name)
}

// Definition метаданные игры (для матчмейкинга)
func (r *Registry) Definition(ctx context.Context, name string) (domain.GameDefinition, error) {
	e, err := r.Get(ctx, name)
	if err != nil {
		return domain.GameDefinition{}, err
	}
	return e.Definition, nil
}

// Reload заново читает определение; если дайджест не изменился, кеш сохраняется.
// Исходники, уже отвергнутые компилятором, повторно не компилируются.
func (r *Registry) Reload(ctx context.Context, name string) (*Entry, error) {
	def, err := r.loader.Load(ctx, name)
	if err != nil {
		if ctx.Err() == nil {
			r.fail(name, "", err)
		}
		return nil, err
	}
	digest := sandbox.SourceDigest(def.Source)

	r.mu.Lock()
	prev := r.entries[name]
	if f := r.failures[name]; f != nil && f.digest == digest {
		f.at = r.now()
		r.mu.Unlock()
		return nil, f.err
	}
	r.mu.Unlock()

	g, err := r.compiler.Compile(def.Name, def.Source)
	if err != nil {
		var ce *sandbox.CompileError
		if errors.As(err, &ce) {
			metrics.CompileErrors.WithLabelValues(string(ce.Kind)).Inc()
		}
		r.log.Warn("game rejected", "game", name, "error", err)
		err = fmt.Errorf("compile %s: %w", name, err)
		r.fail(name, digest, err)
		return nil, err
	}
	r.mu.Lock()
	delete(r.failures, name)
	r.mu.Unlock()
	if prev != nil && prev.Game.Digest() == g.Digest() && prev.Definition == withoutSource(def, prev) {
		return prev, nil
	}

	e := &Entry{Definition: def, Game: g}
	r.mu.Lock()
	r.entries[name] = e
	r.mu.Unlock()
	r.log.Info("game loaded", "game", name, "digest", g.Digest()[:12], "moves", g.Moves())
	return e, nil
}

func (r *Registry) fail(name, digest string, err error) {
	r.mu.Lock()
	r.failures[name] = &failure{digest: digest, err: err, at: r.now()}
	r.mu.Unlock()
}

// Preload компилирует все игры загрузчика. Ошибочные игры пропускаются.
func (r *Registry) Preload(ctx context.Context) (loaded []string, err error) {
	names, err := r.loader.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if _, err := r.Reload(ctx, name); err != nil {
			continue
		}
		loaded = append(loaded, name)
	}
	return loaded, nil
}

// Names игры, уже находящиеся в кеше
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}

// сравнение метаданных без учета исходников (их покрывает дайджест)
func withoutSource(def domain.GameDefinition, prev *Entry) domain.GameDefinition {
	def.Source = prev.Definition.Source
	return def
}
