package domain

import (
	"fmt"
	"strings"
)

// Source содержит два сегмента определения игры
type Source struct {
	Client string `json:"client" yaml:"-"` // bootstrap для браузера, хост его не исполняет
	Server string `json:"server" yaml:"-"` // серверная логика (Lua)
}

// GameDefinition неизменяемое описание игры, полученное от загрузчика
type GameDefinition struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Source          Source `json:"-" yaml:"-"`
	MinPlayers      int    `json:"min_players" yaml:"min_players"`
	MaxPlayers      int    `json:"max_players" yaml:"max_players"`
	HasWinCondition bool   `json:"has_win_condition" yaml:"has_win_condition"`
	CanJoinLate     bool   `json:"can_join_late" yaml:"can_join_late"`
}

// Validate проверяет метаданные комнаты
func (d GameDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("game definition: empty name")
	}
	if d.MinPlayers < 1 {
		return fmt.Errorf("game definition %q: min_players must be >= 1, got %d", d.Name, d.MinPlayers)
	}
	if d.MaxPlayers < d.MinPlayers {
		return fmt.Errorf("game definition %q: max_players %d < min_players %d", d.Name, d.MaxPlayers, d.MinPlayers)
	}
	return nil
}
