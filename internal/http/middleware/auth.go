package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"game_host/internal/service"
)

// PlayerKey совпадает с handlers.PlayerKey
const PlayerKey = "player_id"

// PlayerAuth проверяет Bearer-токен и кладет игрока в контекст.
// Без секрета пропускает запрос: игрок берется из параметров.
func PlayerAuth(tokens *service.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokens.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		playerID, err := tokens.PlayerID(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(PlayerKey, playerID)
		c.Next()
	}
}

// CORS разрешает фронтенду на другом домене; пустой allowed отражает любой Origin
func CORS(allowed string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (allowed == "" || origin == allowed) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
