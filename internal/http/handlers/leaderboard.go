package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"game_host/internal/domain"
	"game_host/internal/rating"
)

const maxLeaderboard = 100

// рейтинг игрока в игре; новый игрок получает рейтинг по умолчанию
func (h *Handler) GetRating(c *gin.Context) {
	gameName, playerID := c.Param("game"), c.Param("player")

	records, err := h.Ratings.Get(c.Request.Context(), gameName, []string{playerID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get rating"})
		return
	}
	rec, ok := records[playerID]
	if !ok {
		rec = domain.NewRatingRecord(playerID, gameName)
	}

	c.JSON(http.StatusOK, gin.H{
		"rating": rec,
		"tier":   rating.Tier(rec.Rating),
	})
}

// список лучших игроков игры
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit := maxLeaderboard
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxLeaderboard)
	}

	top, err := h.Ratings.Top(c.Request.Context(), c.Param("game"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get leaderboard"})
		return
	}

	type row struct {
		Rank int `json:"rank"`
		domain.PlayerRatingRecord
		Tier string `json:"tier"`
	}
	rows := make([]row, len(top))
	for i, rec := range top {
		rows[i] = row{Rank: i + 1, PlayerRatingRecord: rec, Tier: rating.Tier(rec.Rating)}
	}

	c.JSON(http.StatusOK, gin.H{
		"game":        c.Param("game"),
		"leaderboard": rows,
	})
}

// последние партии игры
func (h *Handler) GetRecentResults(c *gin.Context) {
	if h.Results == nil {
		c.JSON(http.StatusOK, gin.H{"results": []any{}})
		return
	}
	results, err := h.Results.Recent(c.Request.Context(), c.Param("game"), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get results"})
		return
	}
	if results == nil {
		c.JSON(http.StatusOK, gin.H{"results": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
