package rating

import (
	"math"

	"game_host/internal/domain"
)

// K коэффициент Эло
const K = 32

// Outcome исход партии один на один
type Outcome string

const (
	Player1Wins Outcome = "player1"
	Player2Wins Outcome = "player2"
	Draw        Outcome = "draw"
)

// Expected ожидаемый счет игрока с рейтингом a против b
func Expected(a, b float64) float64 {
	return 1 / (1 + math.Pow(10, (b-a)/400))
}

func delta(rating, opponent float64, actual float64) int {
	return int(math.Round(K * (actual - Expected(rating, opponent))))
}

// Settle1v1 изменения рейтинга двух игроков; сумма всегда равна нулю
func Settle1v1(r1, r2 int, outcome Outcome) (d1, d2 int) {
	actual := 0.5
	switch outcome {
	case Player1Wins:
		actual = 1
	case Player2Wins:
		actual = 0
	}
	d1 = delta(float64(r1), float64(r2), actual)
	return d1, -d1
}

// SettleMulti изменения для n >= 3 игроков. Ожидание каждого считается против
// среднего рейтинга остальных; winner == -1 означает ничью (каждому 1/n).
// Сумма изменений в общем случае не равна нулю.
func SettleMulti(ratings []int, winner int) []int {
	n := len(ratings)
	out := make([]int, n)
	if n < 2 {
		return out
	}
	total := 0
	for _, r := range ratings {
		total += r
	}
	for i, r := range ratings {
		mean := float64(total-r) / float64(n-1)
		actual := 0.0
		switch {
		case winner < 0:
			actual = 1 / float64(n)
		case winner == i:
			actual = 1
		}
		out[i] = delta(float64(r), mean, actual)
	}
	return out
}

// Settle применяет итог партии к записям игроков. Отсутствующие игроки
// получают рейтинг по умолчанию. Возвращает обновленные записи в порядке result.Players.
func Settle(result domain.GameResult, current map[string]domain.PlayerRatingRecord) ([]domain.PlayerRatingRecord, []domain.RatingChange) {
	players := result.Players
	records := make([]domain.PlayerRatingRecord, len(players))
	ratings := make([]int, len(players))
	winner := -1
	for i, p := range players {
		rec, ok := current[p]
		if !ok {
			rec = domain.NewRatingRecord(p, result.GameName)
		}
		records[i] = rec
		ratings[i] = rec.Rating
		if result.WinnerID != nil && *result.WinnerID == p {
			winner = i
		}
	}
	draw := result.EndReason == domain.EndReasonDraw || winner < 0

	var deltas []int
	if len(players) == 2 {
		outcome := Draw
		switch {
		case draw:
		case winner == 0:
			outcome = Player1Wins
		default:
			outcome = Player2Wins
		}
		d1, d2 := Settle1v1(ratings[0], ratings[1], outcome)
		deltas = []int{d1, d2}
	} else {
		if draw {
			winner = -1
		}
		deltas = SettleMulti(ratings, winner)
	}

	changes := make([]domain.RatingChange, len(players))
	for i := range records {
		old := records[i].Rating
		records[i].Rating = old + deltas[i]
		records[i].GamesPlayed++
		switch {
		case draw:
			records[i].Draws++
		case i == winner:
			records[i].Wins++
		default:
			records[i].Losses++
		}
		records[i].UpdatedAt = result.EndedAt
		changes[i] = domain.RatingChange{
			PlayerID:  records[i].PlayerID,
			OldRating: old,
			NewRating: records[i].Rating,
			Delta:     deltas[i],
			Tier:      Tier(records[i].Rating),
		}
	}
	return records, changes
}
