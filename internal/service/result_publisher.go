package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"game_host/internal/domain"
	"game_host/internal/logger"
)

const defaultStreamMaxLen = 10000

// ResultPublisher добавляет итоги партий в redis stream
type ResultPublisher struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
}

func NewResultPublisher(rdb redis.Cmdable, stream string) *ResultPublisher {
	return &ResultPublisher{rdb: rdb, stream: stream, maxLen: defaultStreamMaxLen}
}

func (p *ResultPublisher) Publish(ctx context.Context, h domain.ResultHandoff) error {
	if h.RatingChanges == nil {
		h.RatingChanges = []domain.RatingChange{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"game":    h.GameName,
			"room":    h.RoomID,
			"payload": string(data),
		},
	}).Err()
}

// LogHandoff пишет итоги в лог, когда redis не настроен
type LogHandoff struct {
	log *slog.Logger
}

func NewLogHandoff(l *slog.Logger) *LogHandoff {
	return &LogHandoff{log: logger.OrDefault(l)}
}

func (h *LogHandoff) Publish(_ context.Context, r domain.ResultHandoff) error {
	h.log.Info("result handoff", "game", r.GameName, "room", r.RoomID, "reason", r.EndReason, "players", r.Players, "changes", len(r.RatingChanges))
	return nil
}
