package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"game_host/internal/http/handlers"
	"game_host/internal/http/middleware"
	"game_host/internal/service"
	"game_host/internal/ws"
)

// Deps зависимости HTTP-поверхности
type Deps struct {
	Handler   *handlers.Handler
	WS        *ws.Handler
	Tokens    *service.TokenVerifier
	Limiter   middleware.Limiter // nil отключает ограничение
	Games     func() []string
	Version   string
	RoomCount func() int
}

// RegisterRoutes регистрирует все маршруты хоста
func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/health", func(c *gin.Context) {
		resp := gin.H{"status": "ok", "version": d.Version}
		if d.RoomCount != nil {
			resp["rooms"] = d.RoomCount()
		}
		c.JSON(http.StatusOK, resp)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/games", func(c *gin.Context) {
		var names []string
		if d.Games != nil {
			names = d.Games()
		}
		if names == nil {
			names = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"games": names})
	})
	api.GET("/ratings/:game/:player", d.Handler.GetRating)
	api.GET("/leaderboard/:game", d.Handler.GetLeaderboard)
	api.GET("/results/:game", d.Handler.GetRecentResults)

	mm := api.Group("/matchmaking", middleware.PlayerAuth(d.Tokens))
	if d.Limiter != nil {
		mm.Use(middleware.RateLimit(d.Limiter))
	}
	mm.POST("/join", d.Handler.JoinQueue)
	mm.GET("/status", d.Handler.QueueStatus)
	mm.POST("/leave", d.Handler.LeaveQueue)
	mm.GET("/stats", d.Handler.QueueStats)

	if d.WS != nil {
		r.GET("/ws", d.WS.Serve)
	}
}
