package rating

import (
	"context"
	"sort"
	"sync"

	"game_host/internal/domain"
)

// Store хранилище рейтингов, ключ (игрок, игра)
type Store interface {
	// Get записи игроков; отсутствующих в ответе нет
	Get(ctx context.Context, gameName string, playerIDs []string) (map[string]domain.PlayerRatingRecord, error)
	Save(ctx context.Context, records []domain.PlayerRatingRecord) error
	Top(ctx context.Context, gameName string, limit int) ([]domain.PlayerRatingRecord, error)
}

// MemoryStore хранилище в памяти процесса (без базы данных и в тестах)
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]domain.PlayerRatingRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]domain.PlayerRatingRecord)}
}

func (m *MemoryStore) Get(_ context.Context, gameName string, playerIDs []string) (map[string]domain.PlayerRatingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.PlayerRatingRecord, len(playerIDs))
	for _, p := range playerIDs {
		if rec, ok := m.records[gameName][p]; ok {
			out[p] = rec
		}
	}
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, records []domain.PlayerRatingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		game, ok := m.records[rec.GameName]
		if !ok {
			game = make(map[string]domain.PlayerRatingRecord)
			m.records[rec.GameName] = game
		}
		game[rec.PlayerID] = rec
	}
	return nil
}

func (m *MemoryStore) Top(_ context.Context, gameName string, limit int) ([]domain.PlayerRatingRecord, error) {
	m.mu.RLock()
	out := make([]domain.PlayerRatingRecord, 0, len(m.records[gameName]))
	for _, rec := range m.records[gameName] {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
