package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"game_host/internal/broadcast"
	"game_host/internal/domain"
	"game_host/internal/game"
	"game_host/internal/metrics"
)

// ErrLaneClosed комната уже разобрана, операция не будет применена
var ErrLaneClosed = errors.New("lane closed")

type opKind int

const (
	opAction opKind = iota
	opConnect
	opDisconnect
	opExec
	opDestroy
)

type op struct {
	kind     opKind
	playerID string
	move     string
	payload  game.Payload
	reason   string
	exec     func(*game.Room) error
	reply    chan error
}

// Lane единственная горутина, которой принадлежит комната.
// Все изменения комнаты проходят через inbox, поэтому обработчики игры никогда не
// выполняются параллельно.
type Lane struct {
	room  *game.Room
	def   domain.GameDefinition
	cfg   Config
	pub   broadcast.Publisher
	log   *slog.Logger
	inbox chan op

	done     chan struct{}
	closed   atomic.Bool
	teardown sync.Once
	onClose  func(*Lane)

	// принадлежат горутине дорожки
	connected     map[string]int
	lastPublished uint64
	published     bool
	startTimer    *time.Timer
	idleTimer     *time.Timer
}

func newLane(room *game.Room, def domain.GameDefinition, cfg Config, pub broadcast.Publisher, log *slog.Logger, onClose func(*Lane)) *Lane {
	return &Lane{
		room:      room,
		def:       def,
		cfg:       cfg,
		pub:       pub,
		log:       log,
		inbox:     make(chan op, cfg.QueueSize),
		done:      make(chan struct{}),
		onClose:   onClose,
		connected: make(map[string]int),
	}
}

func (l *Lane) RoomID() string   { return l.room.ID() }
func (l *Lane) GameName() string { return l.def.Name }

// Done закрывается после разборки комнаты
func (l *Lane) Done() <-chan struct{} { return l.done }

// Closed сообщает, что дорожка больше не принимает операции
func (l *Lane) Closed() bool { return l.closed.Load() }

// Submit ставит действие игрока в очередь, не дожидаясь применения
func (l *Lane) Submit(ctx context.Context, env domain.ActionEnvelope) error {
	return l.enqueue(ctx, op{kind: opAction, playerID: env.PlayerID, move: env.MoveName, payload: game.Payload(env.Payload)})
}

// Join сажает игрока и ждет результата
func (l *Lane) Join(ctx context.Context, playerID string) error {
	return l.Exec(ctx, func(r *game.Room) error {
		_, err := r.Join(ctx, playerID)
		return err
	})
}

// Leave освобождает место игрока и ждет результата
func (l *Lane) Leave(ctx context.Context, playerID string) error {
	return l.Exec(ctx, func(r *game.Room) error {
		_, err := r.Leave(ctx, playerID)
		return err
	})
}

// Seated сообщает, занимает ли игрок место в комнате
func (l *Lane) Seated(ctx context.Context, playerID string) (bool, error) {
	var seated bool
	err := l.Exec(ctx, func(r *game.Room) error {
		seated = r.HasPlayer(playerID)
		return nil
	})
	return seated, err
}

// Connect отмечает подключенного клиента (для политики простоя)
func (l *Lane) Connect(ctx context.Context, playerID string) error {
	return l.enqueue(ctx, op{kind: opConnect, playerID: playerID})
}

func (l *Lane) Disconnect(ctx context.Context, playerID string) error {
	return l.enqueue(ctx, op{kind: opDisconnect, playerID: playerID})
}

// Exec выполняет fn внутри дорожки и возвращает ее ошибку
func (l *Lane) Exec(ctx context.Context, fn func(*game.Room) error) error {
	reply := make(chan error, 1)
	if err := l.enqueue(ctx, op{kind: opExec, exec: fn, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-l.done:
		// операция могла успеть выполниться до разборки
		select {
		case err := <-reply:
			return err
		default:
			return ErrLaneClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy завершает комнату с указанной причиной
func (l *Lane) Destroy(reason string) {
	reply := make(chan error, 1)
	if err := l.enqueue(context.Background(), op{kind: opDestroy, reason: reason, reply: reply}); err != nil {
		return
	}
	select {
	case <-reply:
	case <-l.done:
	}
}

func (l *Lane) enqueue(ctx context.Context, o op) error {
	if l.closed.Load() {
		return ErrLaneClosed
	}
	select {
	case l.inbox <- o:
		return nil
	case <-l.done:
		return ErrLaneClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lane) run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()
	defer l.stopTimers()

	l.armIdle()
	l.checkStart()
	l.publish(false)

	for {
		select {
		case <-ctx.Done():
			l.room.Finish(domain.EndReasonDestroyed, nil)
		case o := <-l.inbox:
			l.step(ctx, o)
			l.drain(ctx)
		case <-ticker.C:
			l.tick(ctx)
		case <-timerC(l.startTimer):
			l.startTimer = nil
			l.onStartGrace()
			l.publish(false)
		case <-timerC(l.idleTimer):
			l.idleTimer = nil
			l.onIdle()
		}

		if l.room.Phase() == domain.PhaseFinished {
			l.close()
			return
		}
	}
}

func (l *Lane) tick(ctx context.Context) {
	started := time.Now()
	l.drain(ctx)
	// фаза перепроверяется: разборка могла произойти в одной из операций
	if l.room.Phase() == domain.PhaseActive {
		if _, err := l.room.Tick(ctx); err != nil {
			l.fault(err)
		}
		metrics.Ticks.Inc()
		l.publishLive()
	}
	metrics.TickDuration.Observe(time.Since(started).Seconds())
}

// drain применяет уже поставленные в очередь операции в порядке поступления
func (l *Lane) drain(ctx context.Context) {
	for n := len(l.inbox); n > 0; n-- {
		if l.room.Phase() == domain.PhaseFinished {
			return
		}
		l.step(ctx, <-l.inbox)
	}
}

// step применяет одну операцию и публикует ее результат отдельным снимком
func (l *Lane) step(ctx context.Context, o op) {
	l.apply(ctx, o)
	l.publishLive()
}

// publishLive снимок живой комнаты; завершенную публикует close как финальную
func (l *Lane) publishLive() {
	if l.room.Phase() != domain.PhaseFinished {
		l.publish(false)
	}
}

func (l *Lane) apply(ctx context.Context, o op) {
	var err error
	switch o.kind {
	case opAction:
		if _, err = l.room.ApplyAction(ctx, o.playerID, o.move, o.payload); err != nil {
			l.fault(err)
		}
	case opConnect:
		l.connected[o.playerID]++
		l.armIdle()
	case opDisconnect:
		if l.connected[o.playerID] > 1 {
			l.connected[o.playerID]--
		} else {
			delete(l.connected, o.playerID)
		}
		l.armIdle()
	case opExec:
		err = o.exec(l.room)
		l.checkStart()
	case opDestroy:
		l.room.Finish(o.reason, nil)
	}
	if o.reply != nil {
		o.reply <- err
	}
}

func (l *Lane) fault(err error) {
	var f *game.ActionFault
	if errors.As(err, &f) {
		metrics.ActionFaults.WithLabelValues(l.def.Name, f.Move).Inc()
		l.log.Warn("action fault", "player", f.PlayerID, "move", f.Move, "error", f.Err)
		return
	}
	l.log.Debug("action rejected", "error", err)
}

// checkStart запускает grace-таймер, когда набран минимум, но есть свободные места
func (l *Lane) checkStart() {
	if l.room.ReadyToStart() {
		if l.startTimer == nil {
			if l.def.MinPlayers == l.def.MaxPlayers || l.cfg.StartGrace <= 0 {
				l.onStartGrace()
				return
			}
			l.startTimer = time.NewTimer(l.cfg.StartGrace)
		}
		return
	}
	if l.startTimer != nil && l.room.Phase() == domain.PhaseWaiting {
		l.startTimer.Stop()
		l.startTimer = nil
	}
}

func (l *Lane) onStartGrace() {
	if !l.room.ReadyToStart() {
		return
	}
	if err := l.room.Start(); err != nil {
		l.log.Warn("start after grace failed", "error", err)
	}
}

// armIdle взводит таймер простоя, пока к комнате никто не подключен
func (l *Lane) armIdle() {
	if len(l.connected) > 0 || l.cfg.IdleGrace <= 0 {
		if l.idleTimer != nil {
			l.idleTimer.Stop()
			l.idleTimer = nil
		}
		return
	}
	if l.idleTimer == nil {
		l.idleTimer = time.NewTimer(l.cfg.IdleGrace)
	}
}

func (l *Lane) onIdle() {
	if len(l.connected) > 0 || l.room.Phase() == domain.PhaseFinished {
		return
	}
	l.log.Info("room idle, destroying", "grace", l.cfg.IdleGrace)
	l.room.Finish(domain.EndReasonAbandoned, nil)
}

// publish отправляет снимок, если версия изменилась с прошлой публикации
func (l *Lane) publish(final bool) {
	v := l.room.Version()
	if l.published && v == l.lastPublished && !final {
		return
	}
	m := l.room.Current()
	l.pub.Publish(broadcast.StateUpdate{
		RoomID:  l.room.ID(),
		Version: m.Version,
		Phase:   m.Phase,
		Players: m.Players,
		State:   m.State,
		Final:   final,
	})
	l.lastPublished = v
	l.published = true
}

// close разборка выполняется ровно один раз
func (l *Lane) close() {
	l.teardown.Do(func() {
		l.closed.Store(true)
		l.stopTimers()
		l.publish(true)
		l.room.Close()
		close(l.done)

		// ответить тем, кто успел поставить операцию до закрытия
		for {
			select {
			case o := <-l.inbox:
				if o.reply != nil {
					o.reply <- ErrLaneClosed
				}
				continue
			default:
			}
			break
		}

		if l.onClose != nil {
			l.onClose(l)
		}
	})
}

func (l *Lane) stopTimers() {
	if l.startTimer != nil {
		l.startTimer.Stop()
		l.startTimer = nil
	}
	if l.idleTimer != nil {
		l.idleTimer.Stop()
		l.idleTimer = nil
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
