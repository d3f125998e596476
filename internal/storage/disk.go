package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"sitegen/internal/model"
	"sitegen/pkg/logger"
)

// DiskStorage writes each export as a standalone .html file under dir.
type DiskStorage struct {
	dir string
	mu  sync.RWMutex
}

func NewDiskStorage(dir string) *DiskStorage {
	return &DiskStorage{dir: dir}
}

func (d *DiskStorage) Init() error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	logger.Infof("Disk export storage initialized at %s", d.dir)
	return nil
}

func (d *DiskStorage) Close() error {
	return nil
}

func (d *DiskStorage) Save(ctx context.Context, name string, doc model.Document) (*model.ExportRecord, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if err := checkDocument(doc); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path := filepath.Join(d.dir, name)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(doc.HTML), 0644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return d.stat(name)
}

func (d *DiskStorage) Load(ctx context.Context, name string) (model.Document, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return model.Document{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(d.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return model.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return model.NewDocument(string(data), nil), nil
}

func (d *DiskStorage) List(ctx context.Context) ([]*model.ExportRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	records := make([]*model.ExportRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), htmlExt) {
			continue
		}
		rec, err := d.stat(entry.Name())
		if err != nil {
			logger.Errorf("Failed to stat export %s: %v", entry.Name(), err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records, nil
}

func (d *DiskStorage) Delete(ctx context.Context, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	err = os.Remove(filepath.Join(d.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStorage) stat(name string) (*model.ExportRecord, error) {
	path := filepath.Join(d.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return &model.ExportRecord{
		Name:      name,
		Location:  path,
		SizeBytes: int(info.Size()),
		CreatedAt: info.ModTime(),
	}, nil
}
