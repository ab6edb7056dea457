package character

import "strings"

// Store exposes character lookup for the fallback path of the character client.
type Store interface {
	List() []Character
	FindByID(id int64) (Character, bool)
	Search(query string) []Character
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Character
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied characters.
func NewMemoryStore(items []Character) *MemoryStore {
	return &MemoryStore{items: append([]Character(nil), items...)}
}

// List returns a copy of the catalogue.
func (s *MemoryStore) List() []Character {
	return append([]Character(nil), s.items...)
}

// FindByID looks up a character by identifier.
func (s *MemoryStore) FindByID(id int64) (Character, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Character{}, false
}

// Search filters by case-insensitive substring over name and description.
// An empty query matches everything.
func (s *MemoryStore) Search(query string) []Character {
	q := strings.ToLower(strings.TrimSpace(query))
	matches := make([]Character, 0, len(s.items))
	for _, item := range s.items {
		if q == "" ||
			strings.Contains(strings.ToLower(item.Name), q) ||
			strings.Contains(strings.ToLower(item.Description), q) {
			matches = append(matches, item)
		}
	}
	return matches
}
