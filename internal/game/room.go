package game

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"game_host/internal/domain"
	"game_host/internal/logger"
)

// Config правила вместимости комнаты
type Config struct {
	MinPlayers      int
	MaxPlayers      int
	HasWinCondition bool
	CanJoinLate     bool
}

func ConfigFrom(def domain.GameDefinition) Config {
	return Config{
		MinPlayers:      def.MinPlayers,
		MaxPlayers:      def.MaxPlayers,
		HasWinCondition: def.HasWinCondition,
		CanJoinLate:     def.CanJoinLate,
	}
}

// Mutation результат одной операции над комнатой
type Mutation struct {
	Version uint64
	Phase   domain.Phase
	State   json.RawMessage
	Players []string
	Changed bool
}

// Room авторитетная партия. Методы не потокобезопасны: их вызывает только дорожка комнаты.
type Room struct {
	id        string
	gameName  string
	cfg       Config
	module    Module
	handlers  map[string]Handler
	phase     domain.Phase
	seats     []domain.Seat
	createdAt time.Time

	// участники, сидевшие за столом в активной фазе (для GameResult)
	participants []string

	snapshot []byte
	version  uint64
	result   *domain.GameResult

	now func() time.Time
	log *slog.Logger

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

type Option func(*Room)

func WithClock(now func() time.Time) Option {
	return func(r *Room) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Room) { r.log = l }
}

// NewRoom создает комнату в фазе ожидания поверх загруженного модуля
func NewRoom(id string, def domain.GameDefinition, module Module, opts ...Option) (*Room, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	r := &Room{
		id:       id,
		gameName: def.Name,
		cfg:      ConfigFrom(def),
		module:   module,
		handlers: module.Handlers(),
		phase:    domain.PhaseWaiting,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.ForRoom(r.log, id, def.Name)
	r.createdAt = r.now()

	snap, err := module.State().Snapshot()
	if err != nil {
		return nil, fmt.Errorf("room %s: initial snapshot: %w", id, err)
	}
	r.snapshot = snap
	return r, nil
}

func (r *Room) ID() string              { return r.id }
func (r *Room) GameName() string        { return r.gameName }
func (r *Room) Config() Config          { return r.cfg }
func (r *Room) Phase() domain.Phase     { return r.phase }
func (r *Room) CreatedAt() time.Time    { return r.createdAt }
func (r *Room) Version() uint64         { return r.version }
func (r *Room) Snapshot() []byte        { return r.snapshot }
func (r *Room) PlayerCount() int        { return len(r.seats) }
func (r *Room) HasPlayer(id string) bool { return r.seatOf(id) >= 0 }

// Players игроки в порядке посадки
func (r *Room) Players() []string {
	out := make([]string, len(r.seats))
	for i, s := range r.seats {
		out[i] = s.PlayerID
	}
	return out
}

// Seats копия ростера
func (r *Room) Seats() []domain.Seat {
	return append([]domain.Seat(nil), r.seats...)
}

// HasFreeSeat можно ли посадить еще одного игрока
func (r *Room) HasFreeSeat() bool {
	if len(r.seats) >= r.cfg.MaxPlayers {
		return false
	}
	switch r.phase {
	case domain.PhaseWaiting:
		return true
	case domain.PhaseActive:
		return r.cfg.CanJoinLate
	}
	return false
}

// ReadyToStart набран минимум игроков, но комната еще ждет
func (r *Room) ReadyToStart() bool {
	return r.phase == domain.PhaseWaiting && len(r.seats) >= r.cfg.MinPlayers
}

// Result итог партии; есть только у комнат, доживших до активной фазы
func (r *Room) Result() (domain.GameResult, bool) {
	if r.result == nil {
		return domain.GameResult{}, false
	}
	return *r.result, true
}

// MaxConcurrentInvocations максимальное число одновременно выполнявшихся обработчиков
func (r *Room) MaxConcurrentInvocations() int32 {
	return r.maxInFlight.Load()
}

// Current текущее состояние комнаты для публикации
func (r *Room) Current() Mutation {
	return r.mutation(false)
}

func (r *Room) mutation(changed bool) Mutation {
	return Mutation{
		Version: r.version,
		Phase:   r.phase,
		State:   json.RawMessage(r.snapshot),
		Players: r.Players(),
		Changed: changed,
	}
}

// Join сажает игрока и вызывает playerJoined
func (r *Room) Join(ctx context.Context, playerID string) (Mutation, error) {
	if r.phase == domain.PhaseFinished {
		return r.mutation(false), domain.ErrRoomFinished
	}
	if r.HasPlayer(playerID) {
		return r.mutation(false), nil
	}
	if len(r.seats) >= r.cfg.MaxPlayers {
		return r.mutation(false), domain.ErrRoomFull
	}
	if r.phase == domain.PhaseActive && !r.cfg.CanJoinLate {
		return r.mutation(false), domain.ErrRoomFull
	}

	seat := domain.Seat{PlayerID: playerID, Index: r.freeSeatIndex(), JoinedAt: r.now()}
	r.seats = append(r.seats, seat)
	if r.phase == domain.PhaseActive {
		r.addParticipant(playerID)
	}
	r.log.Info("player joined", "player", playerID, "seat", seat.Index, "players", len(r.seats))

	if h, ok := r.handlers[MovePlayerJoined]; ok {
		payload := r.rosterPayload(playerID, seat.Index)
		if err := r.invoke(ctx, MovePlayerJoined, h, payload, playerID); err != nil {
			r.log.Warn("playerJoined handler fault", "player", playerID, "error", err)
		}
	}

	if r.phase == domain.PhaseWaiting && len(r.seats) == r.cfg.MaxPlayers {
		r.activate()
	}
	r.version++
	return r.mutation(true), nil
}

// Leave вызывает playerLeft и всегда освобождает место
func (r *Room) Leave(ctx context.Context, playerID string) (Mutation, error) {
	i := r.seatOf(playerID)
	if i < 0 {
		return r.mutation(false), domain.ErrPlayerNotInRoom
	}
	seat := r.seats[i]

	if r.phase != domain.PhaseFinished {
		if h, ok := r.handlers[MovePlayerLeft]; ok {
			payload := r.rosterPayload(playerID, seat.Index)
			if err := r.invoke(ctx, MovePlayerLeft, h, payload, playerID); err != nil {
				r.log.Warn("playerLeft handler fault", "player", playerID, "error", err)
			}
		}
	}

	r.seats = append(r.seats[:i], r.seats[i+1:]...)
	r.log.Info("player left", "player", playerID, "players", len(r.seats))

	if r.phase == domain.PhaseActive && len(r.seats) == 0 {
		r.Finish(domain.EndReasonAbandoned, nil)
	}
	r.version++
	return r.mutation(true), nil
}

// ApplyAction применяет ход игрока. Неизвестный ход логируется и игнорируется.
// Ошибка обработчика возвращается как *ActionFault, состояние при этом не меняется.
func (r *Room) ApplyAction(ctx context.Context, playerID, move string, payload Payload) (Mutation, error) {
	switch r.phase {
	case domain.PhaseFinished:
		return r.mutation(false), domain.ErrRoomFinished
	case domain.PhaseWaiting:
		return r.mutation(false), domain.ErrRoomNotActive
	}
	if !r.HasPlayer(playerID) {
		return r.mutation(false), domain.ErrPlayerNotInRoom
	}

	h, ok := r.handlers[move]
	if !ok || IsReserved(move) {
		r.log.Info("unknown move ignored", "player", playerID, "move", move)
		return r.mutation(false), nil
	}
	if len(payload) == 0 {
		payload = Payload("null")
	}

	before := r.version
	if err := r.invoke(ctx, move, h, payload, playerID); err != nil {
		return r.mutation(false), err
	}
	return r.mutation(r.version != before || r.phase == domain.PhaseFinished), nil
}

// Tick вызывает tick(state) в активной фазе
func (r *Room) Tick(ctx context.Context) (Mutation, error) {
	if r.phase != domain.PhaseActive {
		return r.mutation(false), nil
	}
	h, ok := r.handlers[MoveTick]
	if !ok {
		return r.mutation(false), nil
	}
	before := r.version
	if err := r.invoke(ctx, MoveTick, h, Payload("null"), ""); err != nil {
		return r.mutation(false), err
	}
	return r.mutation(r.version != before || r.phase == domain.PhaseFinished), nil
}

// Start переводит комнату в активную фазу после решения о grace-периоде
func (r *Room) Start() error {
	switch r.phase {
	case domain.PhaseActive:
		return nil
	case domain.PhaseFinished:
		return domain.ErrRoomFinished
	}
	if len(r.seats) < r.cfg.MinPlayers {
		return domain.ErrNotEnoughPlayers
	}
	r.activate()
	r.version++
	return nil
}

// Finish завершает партию. Повторные вызовы ничего не делают.
func (r *Room) Finish(reason string, winnerID *string) {
	if r.phase == domain.PhaseFinished {
		return
	}
	wasActive := r.phase == domain.PhaseActive
	r.phase = domain.PhaseFinished
	r.version++

	if !wasActive {
		r.log.Info("room closed before start", "reason", reason)
		return
	}

	if winnerID != nil && !r.isParticipant(*winnerID) {
		r.log.Warn("winner is not a participant, ignoring", "winner", *winnerID)
		winnerID = nil
	}
	r.result = &domain.GameResult{
		RoomID:    r.id,
		GameName:  r.gameName,
		Players:   append([]string(nil), r.participants...),
		WinnerID:  winnerID,
		EndReason: reason,
		EndedAt:   r.now(),
	}
	r.log.Info("room finished", "reason", reason, "players", len(r.participants))
}

// Close освобождает модуль
func (r *Room) Close() {
	r.module.Close()
}

func (r *Room) activate() {
	r.phase = domain.PhaseActive
	for _, s := range r.seats {
		r.addParticipant(s.PlayerID)
	}
	r.log.Info("room active", "players", len(r.seats))
}

// invoke единственная точка вызова игровой логики
func (r *Room) invoke(ctx context.Context, move string, h Handler, payload Payload, playerID string) error {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		m := r.maxInFlight.Load()
		if n <= m || r.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	state := r.module.State()
	var rollback func()
	if cp, ok := state.(Checkpointer); ok {
		rollback = cp.Checkpoint()
	}
	err := safeHandle(ctx, h, state, payload, playerID)
	var snap []byte
	if err == nil {
		snap, err = state.Snapshot()
	}
	if err != nil {
		r.module.TakeOutcome()
		if rollback != nil {
			rollback()
		} else if rerr := state.Restore(r.snapshot); rerr != nil {
			r.log.Error("restore after fault failed", "move", move, "error", rerr)
		}
		return &ActionFault{RoomID: r.id, PlayerID: playerID, Move: move, Err: err}
	}

	if !bytes.Equal(snap, r.snapshot) {
		r.snapshot = snap
		r.version++
	}

	if out := r.module.TakeOutcome(); out != nil && r.phase == domain.PhaseActive {
		reason := out.Reason
		if reason == "" {
			reason = domain.EndReasonDraw
			if out.WinnerID != nil {
				reason = domain.EndReasonWin
			}
		}
		r.Finish(reason, out.WinnerID)
	}
	return nil
}

func (r *Room) rosterPayload(playerID string, seat int) Payload {
	b, _ := json.Marshal(map[string]any{
		"playerId": playerID,
		"seat":     seat,
		"players":  r.Players(),
	})
	return b
}

func (r *Room) seatOf(playerID string) int {
	for i, s := range r.seats {
		if s.PlayerID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) freeSeatIndex() int {
	taken := make(map[int]bool, len(r.seats))
	for _, s := range r.seats {
		taken[s.Index] = true
	}
	for i := 0; ; i++ {
		if !taken[i] {
			return i
		}
	}
}

func (r *Room) addParticipant(playerID string) {
	if !r.isParticipant(playerID) {
		r.participants = append(r.participants, playerID)
	}
}

func (r *Room) isParticipant(playerID string) bool {
	for _, p := range r.participants {
		if p == playerID {
			return true
		}
	}
	return false
}
