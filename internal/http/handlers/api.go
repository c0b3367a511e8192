package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"game_host/internal/domain"
	"game_host/internal/rating"
	"game_host/internal/repository"
	"game_host/internal/scheduler"
)

// PlayerKey ключ gin-контекста, под которым middleware кладет проверенного игрока
const PlayerKey = "player_id"

// Matchmaker операции очереди подбора
type Matchmaker interface {
	Join(ctx context.Context, gameName, playerID string) (domain.MatchTicket, error)
	Status(playerID string) (domain.MatchTicket, error)
	Leave(playerID string) error
	Stats(gameName string) int
}

// ResultHistory история партий (postgres или sqlite)
type ResultHistory interface {
	Recent(ctx context.Context, gameName string, limit int) ([]repository.StoredResult, error)
}

type Handler struct {
	Queue   Matchmaker
	Ratings rating.Store
	Results ResultHistory // может быть nil
}

func NewHandler(queue Matchmaker, ratings rating.Store, results ResultHistory) *Handler {
	return &Handler{Queue: queue, Ratings: ratings, Results: results}
}

// getPlayerID игрок из токена, иначе из запроса
func getPlayerID(c *gin.Context, fromRequest string) (string, bool) {
	if v, ok := c.Get(PlayerKey); ok {
		id, _ := v.(string)
		if fromRequest != "" && fromRequest != id {
			return "", false
		}
		return id, id != ""
	}
	return fromRequest, fromRequest != ""
}

// statusFor код ответа для доменной ошибки
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownGame),
		errors.Is(err, domain.ErrNotInQueue),
		errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, scheduler.ErrLaneClosed):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyQueued),
		errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrRoomFinished):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPlayerNotInRoom):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(code, gin.H{"error": msg})
}
