package content

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store for tests and embedding.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[int64]*Item
	widgets []Widget
	theme   ThemeAssets
}

// NewMemoryStore creates an empty in-memory content store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[int64]*Item)}
}

// AddItem registers a content item
func (s *MemoryStore) AddItem(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// RemoveItem deletes a content item
func (s *MemoryStore) RemoveItem(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// AddWidget registers a widget instance
func (s *MemoryStore) AddWidget(w Widget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widgets = append(s.widgets, w)
}

// SetThemeAssets sets the theme-level assets
func (s *MemoryStore) SetThemeAssets(t ThemeAssets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = t
}

// ListItems implements Store. Items are returned in ascending id order so
// paging is deterministic.
func (s *MemoryStore) ListItems(_ context.Context, contentType string, offset, limit int) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id, item := range s.items {
		if item.Type == contentType {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	out := make([]*Item, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, s.items[id])
	}
	return out, nil
}

// GetItem implements Store
func (s *MemoryStore) GetItem(_ context.Context, id int64) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[id], nil
}

// Widgets implements Store
func (s *MemoryStore) Widgets(_ context.Context) ([]Widget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Widget, len(s.widgets))
	copy(out, s.widgets)
	return out, nil
}

// ThemeAssets implements Store
func (s *MemoryStore) ThemeAssets(_ context.Context) (ThemeAssets, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme, nil
}

// MemoryLibrary is an in-memory MediaLibrary. The exported call counters let
// tests verify that the locator cache short-circuits the expensive paths.
type MemoryLibrary struct {
	mu    sync.RWMutex
	byID  map[int64]*Media
	byURL map[string]int64

	ResolveURLCalls  int
	FindByFileCalls  int
	FindByTitleCalls int
}

// NewMemoryLibrary creates an empty in-memory media library
func NewMemoryLibrary() *MemoryLibrary {
	return &MemoryLibrary{
		byID:  make(map[int64]*Media),
		byURL: make(map[string]int64),
	}
}

// Add registers a media resource, indexing it by URL
func (l *MemoryLibrary) Add(m *Media) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[m.ID] = m
	if m.URL != "" {
		l.byURL[m.URL] = m.ID
	}
}

// SetAltText updates a resource's alt text in place
func (l *MemoryLibrary) SetAltText(id int64, alt string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.byID[id]; ok {
		m.AltText = alt
	}
}

// ResolveURL implements MediaLibrary
func (l *MemoryLibrary) ResolveURL(_ context.Context, rawURL string) (int64, bool, error) {
	l.mu.Lock()
	l.ResolveURLCalls++
	l.mu.Unlock()

	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byURL[rawURL]
	return id, ok, nil
}

// FindByFile implements MediaLibrary
func (l *MemoryLibrary) FindByFile(_ context.Context, basename string) (int64, bool, error) {
	l.mu.Lock()
	l.FindByFileCalls++
	l.mu.Unlock()

	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, m := range l.byID {
		if m.File == basename {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// FindByTitle implements MediaLibrary
func (l *MemoryLibrary) FindByTitle(_ context.Context, title string) (int64, bool, error) {
	l.mu.Lock()
	l.FindByTitleCalls++
	l.mu.Unlock()

	if title == "" {
		return 0, false, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, m := range l.byID {
		if strings.Contains(strings.ToLower(m.Title), strings.ToLower(title)) {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// Get implements MediaLibrary
func (l *MemoryLibrary) Get(_ context.Context, id int64) (*Media, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}
