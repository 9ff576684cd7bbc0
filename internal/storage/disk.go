package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mediaportal/internal/model"
	"mediaportal/pkg/logger"
)

const sessionFile = "auth-storage.json"

// DiskStorage 将登录状态写入 data_dir 下的单个 json 文件
type DiskStorage struct {
	dataDir string
	mu      sync.RWMutex
}

func NewDiskStorage(dataDir string) *DiskStorage {
	return &DiskStorage{
		dataDir: dataDir,
	}
}

func (d *DiskStorage) Init() error {
	// 凭证文件只允许当前用户读写
	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Debugf("Disk session storage ready at %s", d.path())
	return nil
}

func (d *DiskStorage) Close() error {
	return nil
}

func (d *DiskStorage) path() string {
	return filepath.Join(d.dataDir, sessionFile)
}

func (d *DiskStorage) Load() (*model.SessionState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := os.ReadFile(d.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var state model.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if state.Token == "" {
		return nil, ErrSessionNotFound
	}

	return &state, nil
}

func (d *DiskStorage) Save(state *model.SessionState) error {
	if state == nil {
		return ErrInvalidData
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	path := d.path()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return nil
}

func (d *DiskStorage) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Remove(d.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}
