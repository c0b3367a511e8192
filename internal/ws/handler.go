package ws

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"game_host/internal/domain"
	"game_host/internal/logger"
	"game_host/internal/service"
)

// RoomLookup ищет живую комнату по id
type RoomLookup interface {
	Room(roomID string) (Room, bool)
}

// LookupFunc адаптер функции к RoomLookup
type LookupFunc func(roomID string) (Room, bool)

func (f LookupFunc) Room(roomID string) (Room, bool) { return f(roomID) }

// Handler поднимает websocket для игрока, сидящего в комнате
type Handler struct {
	rooms    RoomLookup
	feed     Feed
	tokens   *service.TokenVerifier
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandler(rooms RoomLookup, feed Feed, tokens *service.TokenVerifier, allowedOrigin string, log *slog.Logger) *Handler {
	return &Handler{
		rooms:  rooms,
		feed:   feed,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
		log: logger.OrDefault(log).With("component", "ws"),
	}
}

// Serve GET /ws?room=<id>&token=<jwt>; без секрета игрок передается как player=<id>
func (h *Handler) Serve(c *gin.Context) {
	roomID := c.Query("room")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room required"})
		return
	}

	playerID, ok := h.authenticate(c)
	if !ok {
		return
	}

	room, found := h.rooms.Room(roomID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrRoomNotFound.Error()})
		return
	}
	seated, err := room.Seated(c.Request.Context(), playerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrRoomNotFound.Error()})
		return
	}
	if !seated {
		c.JSON(http.StatusForbidden, gin.H{"error": domain.ErrPlayerNotInRoom.Error()})
		return
	}

	// подписка до апгрейда: первым кадром уйдет текущий снимок
	sub, err := h.feed.Subscribe(roomID, playerID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}
	defer h.feed.Unsubscribe(sub)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "room", roomID, "player", playerID, "error", err)
		return
	}

	NewClient(playerID, conn, room, sub, h.log).Run(c.Request.Context())
}

func (h *Handler) authenticate(c *gin.Context) (string, bool) {
	if !h.tokens.Enabled() {
		playerID := c.Query("player")
		if playerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "player required"})
			return "", false
		}
		return playerID, true
	}

	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return "", false
	}
	playerID, err := h.tokens.PlayerID(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return "", false
	}
	return playerID, true
}
