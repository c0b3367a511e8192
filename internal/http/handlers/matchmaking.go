package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"game_host/internal/domain"
)

type joinRequest struct {
	GameName string `json:"gameName" binding:"required"`
	PlayerID string `json:"playerId"`
}

type leaveRequest struct {
	PlayerID string `json:"playerId"`
}

// постановка в очередь подбора
func (h *Handler) JoinQueue(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gameName is required"})
		return
	}
	playerID, ok := getPlayerID(c, req.PlayerID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "playerId is required"})
		return
	}

	if _, err := h.Queue.Join(c.Request.Context(), req.GameName, playerID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// статус заявки; отсутствие заявки не ошибка
func (h *Handler) QueueStatus(c *gin.Context) {
	playerID, ok := getPlayerID(c, c.Query("playerId"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "playerId is required"})
		return
	}

	t, err := h.Queue.Status(playerID)
	if errors.Is(err, domain.ErrNotInQueue) {
		c.JSON(http.StatusOK, gin.H{"status": "not_in_queue"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"status": string(t.Status)}
	if t.RoomID != "" {
		resp["roomId"] = t.RoomID
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) LeaveQueue(c *gin.Context) {
	var req leaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	playerID, ok := getPlayerID(c, req.PlayerID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "playerId is required"})
		return
	}

	if err := h.Queue.Leave(playerID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// размер очереди игры
func (h *Handler) QueueStats(c *gin.Context) {
	gameName := c.Query("gameName")
	if gameName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gameName is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"playersInQueue": h.Queue.Stats(gameName)})
}
