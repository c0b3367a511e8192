package domain

import "time"

const DefaultRating = 1000

type PlayerRatingRecord struct {
	PlayerID    string    `db:"player_id" json:"player_id"`
	GameName    string    `db:"game_name" json:"game_name"`
	Rating      int       `db:"rating" json:"rating"`
	GamesPlayed int       `db:"games_played" json:"games_played"`
	Wins        int       `db:"wins" json:"wins"`
	Losses      int       `db:"losses" json:"losses"`
	Draws       int       `db:"draws" json:"draws"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// NewRatingRecord запись для игрока, которого еще нет в хранилище
func NewRatingRecord(playerID, gameName string) PlayerRatingRecord {
	return PlayerRatingRecord{PlayerID: playerID, GameName: gameName, Rating: DefaultRating}
}

type RatingChange struct {
	PlayerID  string `json:"playerId"`
	OldRating int    `json:"oldRating"`
	NewRating int    `json:"newRating"`
	Delta     int    `json:"delta"`
	Tier      string `json:"tier"`
}
