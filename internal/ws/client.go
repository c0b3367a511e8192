package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"game_host/internal/broadcast"
	"game_host/internal/domain"
	"game_host/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 16 << 10
)

// Room дорожка комнаты, к которой подключен клиент
type Room interface {
	RoomID() string
	Seated(ctx context.Context, playerID string) (bool, error)
	Submit(ctx context.Context, env domain.ActionEnvelope) error
	Connect(ctx context.Context, playerID string) error
	Disconnect(ctx context.Context, playerID string) error
}

// Feed источник снимков комнаты
type Feed interface {
	Subscribe(roomID, playerID string) (*broadcast.Subscriber, error)
	Unsubscribe(s *broadcast.Subscriber)
}

// inbound кадр действия от клиента
type inbound struct {
	MoveName string          `json:"moveName"`
	Payload  json.RawMessage `json:"payload"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Client одно websocket-соединение игрока с комнатой
type Client struct {
	PlayerID string
	Conn     *websocket.Conn

	room    Room
	sub     *broadcast.Subscriber
	replies chan []byte
	log     *slog.Logger
}

func NewClient(playerID string, conn *websocket.Conn, room Room, sub *broadcast.Subscriber, log *slog.Logger) *Client {
	return &Client{
		PlayerID: playerID,
		Conn:     conn,
		room:     room,
		sub:      sub,
		replies:  make(chan []byte, 8),
		log:      logger.OrDefault(log).With("room", room.RoomID(), "player", playerID),
	}
}

// Run обслуживает соединение до его закрытия или окончания комнаты
func (c *Client) Run(ctx context.Context) {
	if err := c.room.Connect(ctx, c.PlayerID); err != nil {
		c.log.Debug("connect rejected", "error", err)
		_ = c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "room closed"), time.Now().Add(writeWait))
		_ = c.Conn.Close()
		return
	}
	c.log.Info("client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()
	c.readPump(ctx)
	<-writerDone

	// отключение доставляется даже при отмене запроса
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeWait)
	defer cancel()
	if err := c.room.Disconnect(dctx, c.PlayerID); err != nil {
		c.log.Debug("disconnect after teardown", "error", err)
	}
	c.log.Info("client disconnected", "dropped", c.sub.Dropped())
}

func (c *Client) readPump(ctx context.Context) {
	defer close(c.replies)

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(msg, &in); err != nil || in.MoveName == "" {
			c.reply("malformed action")
			continue
		}
		err = c.room.Submit(ctx, domain.ActionEnvelope{
			RoomID:   c.room.RoomID(),
			PlayerID: c.PlayerID,
			MoveName: in.MoveName,
			Payload:  in.Payload,
		})
		if err != nil {
			c.log.Debug("submit failed", "move", in.MoveName, "error", err)
			if errors.Is(err, context.Canceled) {
				return
			}
			// комната закрыта: финальный снимок закроет writePump
			continue
		}
	}
}

func (c *Client) reply(msg string) {
	data, _ := json.Marshal(errorFrame{Type: "error", Error: msg})
	select {
	case c.replies <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	updates := c.sub.C()
	replies := c.replies
	for {
		select {
		case msg, ok := <-updates:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code, text := websocket.CloseNormalClosure, "room finished"
				if c.sub.Dropped() {
					code, text = websocket.CloseTryAgainLater, "slow consumer"
				}
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write failed", "error", err)
				return
			}

		case msg, ok := <-replies:
			if !ok {
				// читатель завершился: соединение закрыто клиентом
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
