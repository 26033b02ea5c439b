package timers

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("database handle is required")

// BlobStore is durable key/value storage for serialized per-user state.
type BlobStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// StateBlob is one serialized value in local_state_blobs.
type StateBlob struct {
	Key       string    `gorm:"column:blob_key;primaryKey;size:255;not null"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (StateBlob) TableName() string {
	return "local_state_blobs"
}

// GormBlobStore persists blobs through GORM.
type GormBlobStore struct {
	db *gorm.DB
}

// NewGormBlobStore constructs a BlobStore over db.
func NewGormBlobStore(db *gorm.DB) (*GormBlobStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormBlobStore{db: db}, nil
}

func (s *GormBlobStore) Get(ctx context.Context, key string) (string, bool, error) {
	var blob StateBlob
	err := s.db.WithContext(ctx).Where("blob_key = ?", key).Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return blob.Value, true, nil
}

func (s *GormBlobStore) Put(ctx context.Context, key, value string) error {
	blob := StateBlob{Key: key, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "blob_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&blob).Error
}

// MemoryBlobStore keeps blobs in process memory.
type MemoryBlobStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBlobStore constructs an empty in-memory BlobStore.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{values: make(map[string]string)}
}

func (s *MemoryBlobStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemoryBlobStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
