package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"sitegen/internal/model"
)

type memoryEntry struct {
	html    string
	created time.Time
}

type MemoryStorage struct {
	docs map[string]memoryEntry
	mu   sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		docs: make(map[string]memoryEntry),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Save(ctx context.Context, name string, doc model.Document) (*model.ExportRecord, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if err := checkDocument(doc); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{html: doc.HTML, created: time.Now()}
	m.docs[name] = entry
	return m.record(name, entry), nil
}

func (m *MemoryStorage) Load(ctx context.Context, name string) (model.Document, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return model.Document{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.docs[name]
	if !exists {
		return model.Document{}, ErrDocumentNotFound
	}
	return model.NewDocument(entry.html, nil), nil
}

func (m *MemoryStorage) List(ctx context.Context) ([]*model.ExportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*model.ExportRecord, 0, len(m.docs))
	for name, entry := range m.docs {
		records = append(records, m.record(name, entry))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records, nil
}

func (m *MemoryStorage) Delete(ctx context.Context, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[name]; !exists {
		return ErrDocumentNotFound
	}
	delete(m.docs, name)
	return nil
}

func (m *MemoryStorage) record(name string, entry memoryEntry) *model.ExportRecord {
	return &model.ExportRecord{
		Name:      name,
		Location:  "memory://" + name,
		SizeBytes: len(entry.html),
		CreatedAt: entry.created,
	}
}
