package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mediaportal/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// sessionRow 单行表，id 固定为 1
type sessionRow struct {
	ID        uint `gorm:"primaryKey"`
	Token     string
	ExpiresAt time.Time
	UserID    string
	Username  string
	Email     string
	Roles     string
	UpdatedAt time.Time
}

func (sessionRow) TableName() string {
	return "auth_sessions"
}

type SQLiteStorage struct {
	dsn     string
	dataDir string
	db      *gorm.DB
}

// NewSQLiteStorage dsn 为空时使用 data_dir/portal.db
func NewSQLiteStorage(dsn, dataDir string) *SQLiteStorage {
	return &SQLiteStorage{dsn: dsn, dataDir: dataDir}
}

func (s *SQLiteStorage) Init() error {
	dsn := s.dsn
	if dsn == "" {
		if err := os.MkdirAll(s.dataDir, 0700); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
		dsn = filepath.Join(s.dataDir, "portal.db")
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	s.db = db
	return nil
}

func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStorage) Load() (*model.SessionState, error) {
	if s.db == nil {
		return nil, ErrStorageInit
	}

	var row sessionRow
	err := s.db.First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if row.Token == "" {
		return nil, ErrSessionNotFound
	}

	state := &model.SessionState{
		Token:     row.Token,
		ExpiresAt: row.ExpiresAt,
	}
	if row.UserID != "" || row.Username != "" || row.Email != "" || row.Roles != "" {
		state.User = &model.UserInfo{
			ID:       row.UserID,
			Username: row.Username,
			Email:    row.Email,
			Roles:    row.Roles,
		}
	}
	return state, nil
}

func (s *SQLiteStorage) Save(state *model.SessionState) error {
	if state == nil {
		return ErrInvalidData
	}
	if s.db == nil {
		return ErrStorageInit
	}

	row := sessionRow{
		ID:        1,
		Token:     state.Token,
		ExpiresAt: state.ExpiresAt,
	}
	if state.User != nil {
		row.UserID = state.User.ID
		row.Username = state.User.Username
		row.Email = state.User.Email
		row.Roles = state.User.Roles
	}
	return s.db.Save(&row).Error
}

func (s *SQLiteStorage) Clear() error {
	if s.db == nil {
		return ErrStorageInit
	}
	return s.db.Delete(&sessionRow{}, 1).Error
}
