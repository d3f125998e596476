package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"sitegen/internal/config"
	"sitegen/internal/model"
)

const htmlExt = ".html"

// Storage keeps exported documents by name.
type Storage interface {
	Save(ctx context.Context, name string, doc model.Document) (*model.ExportRecord, error)
	Load(ctx context.Context, name string) (model.Document, error)
	List(ctx context.Context) ([]*model.ExportRecord, error)
	Delete(ctx context.Context, name string) error

	Init() error
	Close() error
}

// New builds and initialises the store selected by cfg.Type.
func New(cfg config.ExportConfig) (Storage, error) {
	var store Storage
	switch cfg.Type {
	case "", "disk":
		store = NewDiskStorage(cfg.Dir)
	case "memory":
		store = NewMemoryStorage()
	case "redis":
		store = NewRedisStorage(cfg.Redis, cfg.TTL)
	default:
		return nil, fmt.Errorf("%w: unknown export type %q", ErrStorageInit, cfg.Type)
	}
	if err := store.Init(); err != nil {
		return nil, err
	}
	return store, nil
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NormalizeName validates an export name and gives it the .html extension.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !namePattern.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !strings.HasSuffix(strings.ToLower(name), htmlExt) {
		name += htmlExt
	}
	return name, nil
}

func checkDocument(doc model.Document) error {
	if doc.Empty() {
		return fmt.Errorf("%w: document is empty", ErrInvalidData)
	}
	return nil
}
