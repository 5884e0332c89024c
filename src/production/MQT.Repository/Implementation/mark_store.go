package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
)

// FileMarkStore keeps a single watermark as an RFC3339 line in a text file.
// The key is ignored, so it only suits source-scoped deduplication.
type FileMarkStore struct {
	path string
}

func NewFileMarkStore(path string) *FileMarkStore {
	return &FileMarkStore{path: path}
}

func (s *FileMarkStore) Load(_ context.Context, _ string) (time.Time, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read mark file %s: %w", s.path, err)
	}
	mark, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false, nil
	}
	return mark.UTC(), true, nil
}

func (s *FileMarkStore) Save(_ context.Context, _ string, mark time.Time) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to save mark: %w", err)
	}
	if _, err := tmp.WriteString(mark.UTC().Format(time.RFC3339Nano) + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save mark: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save mark: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save mark: %w", err)
	}
	return nil
}

// SQLiteMarkStore keeps keyed watermarks in a local SQLite file
type SQLiteMarkStore struct {
	db *sql.DB
}

func NewSQLiteMarkStore(ctx context.Context, path string) (*SQLiteMarkStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open mark database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	createMarksTable := `
		CREATE TABLE IF NOT EXISTS marks (
			mark_key   TEXT PRIMARY KEY,
			mark       TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := db.ExecContext(ctx, createMarksTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create marks table: %w", err)
	}
	return &SQLiteMarkStore{db: db}, nil
}

func (s *SQLiteMarkStore) Load(ctx context.Context, key string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT mark FROM marks WHERE mark_key = ?`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to load mark %s: %w", key, err)
	}
	mark, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return mark.UTC(), true, nil
}

func (s *SQLiteMarkStore) Save(ctx context.Context, key string, mark time.Time) error {
	query := `
		INSERT INTO marks (mark_key, mark, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(mark_key) DO UPDATE SET mark = excluded.mark, updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, query, key, mark.UTC().Format(time.RFC3339Nano), now); err != nil {
		return fmt.Errorf("failed to save mark %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteMarkStore) Close() error {
	return s.db.Close()
}

// DeviceMarkStore reads marks from devices.last_seen, keyed by device name.
// Save does nothing: the loader moves last_seen forward when the published
// readings are stored.
type DeviceMarkStore struct {
	devices interfaces.DeviceRepository
}

func NewDeviceMarkStore(devices interfaces.DeviceRepository) *DeviceMarkStore {
	return &DeviceMarkStore{devices: devices}
}

func (s *DeviceMarkStore) Load(ctx context.Context, key string) (time.Time, bool, error) {
	return s.devices.GetLastSeen(ctx, key)
}

func (s *DeviceMarkStore) Save(context.Context, string, time.Time) error {
	return nil
}

// MemoryMarkStore keeps marks for the life of the process
type MemoryMarkStore struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func NewMemoryMarkStore() *MemoryMarkStore {
	return &MemoryMarkStore{marks: make(map[string]time.Time)}
}

func (s *MemoryMarkStore) Load(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mark, ok := s.marks[key]
	return mark, ok, nil
}

func (s *MemoryMarkStore) Save(_ context.Context, key string, mark time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[key] = mark.UTC()
	return nil
}
