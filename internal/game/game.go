package game

import (
	"context"
	"encoding/json"
	"fmt"
)

// зарезервированные имена ходов
const (
	MovePlayerJoined = "playerJoined"
	MovePlayerLeft   = "playerLeft"
	MoveTick         = "tick"
)

// IsReserved сообщает, что ход вызывается только хостом, а не клиентом
func IsReserved(move string) bool {
	switch move {
	case MovePlayerJoined, MovePlayerLeft, MoveTick:
		return true
	}
	return false
}

// Payload произвольный JSON от клиента
type Payload = json.RawMessage

// StateHandle авторитетное состояние комнаты
type StateHandle interface {
	// Snapshot возвращает детерминированный JSON текущего состояния
	Snapshot() ([]byte, error)
	// Restore заменяет состояние снимком, полученным из Snapshot
	Restore(snapshot []byte) error
}

// Checkpointer состояние, которое откатывается без сериализации.
// Откат возвращает значение точно таким, каким оно было до вызова.
type Checkpointer interface {
	Checkpoint() (rollback func())
}

// Handler обработчик одного хода
type Handler interface {
	Handle(ctx context.Context, state StateHandle, payload Payload, playerID string) error
}

// HandlerFunc адаптер для обычных функций
type HandlerFunc func(ctx context.Context, state StateHandle, payload Payload, playerID string) error

func (f HandlerFunc) Handle(ctx context.Context, state StateHandle, payload Payload, playerID string) error {
	return f(ctx, state, payload, playerID)
}

// Outcome сигнал игровой логики о завершении партии
type Outcome struct {
	WinnerID *string
	Reason   string
}

// Module загруженный экземпляр игровой логики; принадлежит одной комнате
type Module interface {
	State() StateHandle
	Handlers() map[string]Handler
	// TakeOutcome возвращает и сбрасывает сигнал завершения последнего вызова
	TakeOutcome() *Outcome
	Close()
}

// ActionFault ошибка внутри обработчика; действие отбрасывается, комната продолжает работу
type ActionFault struct {
	RoomID   string
	PlayerID string
	Move     string
	Err      error
}

func (f *ActionFault) Error() string {
	return fmt.Sprintf("action fault: room=%s player=%s move=%s: %v", f.RoomID, f.PlayerID, f.Move, f.Err)
}

func (f *ActionFault) Unwrap() error {
	return f.Err
}

// safeHandle превращает панику обработчика в ошибку
func safeHandle(ctx context.Context, h Handler, state StateHandle, payload Payload, playerID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Handle(ctx, state, payload, playerID)
}
