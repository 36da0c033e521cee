// Package storage persists key/value state partitioned by a
// title+subtitle-derived namespace. Physical keys take the form
// hackare_<ns>_<base>; the title and subtitle keys themselves are stored
// un-namespaced so the namespace can be derived before any read.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hackare/hackare/internal/infrastructure/crypto"
	"github.com/hackare/hackare/internal/infrastructure/eventbus"
	"go.uber.org/zap"
)

const (
	keyPrefix   = "hackare_"
	keyTitle    = "hackare_title"
	keySubtitle = "hackare_subtitle"
)

// Entry is the persisted row. Values under namespaced keys are encrypted;
// the title/subtitle rows hold plaintext.
type Entry struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}

// TableName keeps the table stable across gorm naming strategy changes.
func (Entry) TableName() string { return "store_entries" }

// Open connects the sqlite store and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return db, nil
}

// Store is the namespaced key/value store. A single-writer mutex guards
// mutations; reads may proceed in parallel.
type Store struct {
	db     *gorm.DB
	bus    eventbus.Bus
	logger *zap.Logger

	mu        sync.RWMutex
	title     string
	subtitle  string
	namespace string // cached; recomputed when title/subtitle change
	masterKey []byte // session-held; nil means fallback derivation
	fallback  bool
}

// New builds a store over an opened database. The title and subtitle are
// loaded from their un-namespaced rows so the namespace is available
// immediately.
func New(db *gorm.DB, bus eventbus.Bus, logger *zap.Logger) *Store {
	s := &Store{db: db, bus: bus, logger: logger}
	s.title = s.readPlain(keyTitle)
	s.subtitle = s.readPlain(keySubtitle)
	s.refreshNamespace()
	return s
}

// Title returns the current workspace title.
func (s *Store) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// Subtitle returns the current workspace subtitle.
func (s *Store) Subtitle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subtitle
}

// Namespace returns the active eight-hex-digit namespace.
func (s *Store) Namespace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.namespace
}

// UsingFallbackKey reports whether values are protected by the
// namespace-derived fallback key rather than a user master key.
func (s *Store) UsingFallbackKey() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// SetWorkspace changes title and subtitle, invalidating the cached
// namespace. Existing data is not moved: subsequent reads and writes
// simply target a different partition.
func (s *Store) SetWorkspace(title, subtitle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writePlain(keyTitle, title); err != nil {
		return err
	}
	if err := s.writePlain(keySubtitle, subtitle); err != nil {
		return err
	}
	s.title = title
	s.subtitle = subtitle
	s.masterKey = nil
	s.refreshNamespace()
	s.logger.Info("Workspace switched",
		zap.String("namespace", s.namespace),
	)
	return nil
}

// SetMasterKey installs a session master key for the active namespace.
// The key is held in memory only; nothing is persisted.
func (s *Store) SetMasterKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterKey = append([]byte(nil), key...)
	s.fallback = false
}

// refreshNamespace must run under the write lock.
func (s *Store) refreshNamespace() {
	s.namespace = crypto.DeriveNamespace(s.title, s.subtitle)
	s.fallback = s.masterKey == nil
}

func (s *Store) physicalKey(base string) string {
	return keyPrefix + s.namespace + "_" + base
}

func (s *Store) activeKey(base string, write bool) []byte {
	if s.masterKey != nil {
		return s.masterKey
	}
	// Fallback derivation is always surfaced; it is a warning, not an error.
	s.bus.Publish(context.Background(), eventbus.NewEvent(
		eventbus.EventFallbackNamespace,
		eventbus.FallbackNamespacePayload{Namespace: s.namespace, Key: base, Write: write},
	))
	return crypto.DeriveFallbackKey(s.namespace)
}

// Set encrypts and writes value (JSON-serialized) under the base key.
func (s *Store) Set(base string, value any) error {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %q: %w", base, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := crypto.EncryptBytes(s.activeKey(base, true), plaintext)
	if err != nil {
		return fmt.Errorf("encrypt value for %q: %w", base, err)
	}

	entry := Entry{Key: s.physicalKey(base), Value: sealed}
	return s.db.Save(&entry).Error
}

// Get decrypts the value under the base key into out. Returns false when
// the key is absent or the value fails to decrypt under the active key.
func (s *Store) Get(base string, out any) bool {
	s.mu.RLock()
	physical := s.physicalKey(base)
	key := s.activeKey(base, false)
	s.mu.RUnlock()

	var entry Entry
	if err := s.db.First(&entry, "key = ?", physical).Error; err != nil {
		return false
	}
	plaintext, ok := crypto.DecryptBytes(key, entry.Value)
	if !ok {
		s.logger.Warn("Stored value failed to decrypt", zap.String("key", base))
		return false
	}
	return json.Unmarshal(plaintext, out) == nil
}

// Remove deletes the base key from the active namespace.
func (s *Store) Remove(base string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(&Entry{}, "key = ?", s.physicalKey(base)).Error
}

// Keys lists base keys present in the active namespace.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	prefix := keyPrefix + s.namespace + "_"
	s.mu.RUnlock()

	var physical []string
	if err := s.db.Model(&Entry{}).
		Where("key LIKE ?", prefix+"%").
		Pluck("key", &physical).Error; err != nil {
		return nil, err
	}

	bases := make([]string, 0, len(physical))
	for _, k := range physical {
		bases = append(bases, strings.TrimPrefix(k, prefix))
	}
	return bases, nil
}

func (s *Store) readPlain(key string) string {
	var entry Entry
	if err := s.db.First(&entry, "key = ?", key).Error; err != nil {
		return ""
	}
	return string(entry.Value)
}

func (s *Store) writePlain(key, value string) error {
	entry := Entry{Key: key, Value: []byte(value)}
	return s.db.Save(&entry).Error
}
