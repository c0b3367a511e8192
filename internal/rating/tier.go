package rating

// пороги включительно снизу, по убыванию
var tiers = []struct {
	min  int
	name string
}{
	{2400, "Grandmaster"},
	{2200, "Senior Master"},
	{2000, "Master"},
	{1800, "Expert"},
	{1600, "Advanced"},
	{1400, "Intermediate"},
	{1200, "Beginner"},
}

const bottomTier = "Novice"

// Tier название уровня для рейтинга
func Tier(rating int) string {
	for _, t := range tiers {
		if rating >= t.min {
			return t.name
		}
	}
	return bottomTier
}
