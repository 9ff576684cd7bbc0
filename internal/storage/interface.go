package storage

import (
	"fmt"

	"mediaportal/internal/config"
	"mediaportal/internal/model"
)

// Storage 持久化登录状态，供下次启动时恢复
type Storage interface {
	Load() (*model.SessionState, error)
	Save(state *model.SessionState) error
	Clear() error

	Init() error
	Close() error
}

// New 按配置创建存储，调用方负责 Init
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "disk":
		return NewDiskStorage(cfg.DataDir), nil
	case "sqlite":
		return NewSQLiteStorage(cfg.DSN, cfg.DataDir), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
