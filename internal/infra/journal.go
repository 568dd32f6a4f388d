package infra

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	journalDBName  = "journal.db"
	journalKeyName = ".journal.key"
	journalKeySize = 32
)

// SQLJournal implements domain.MuteJournal on a SQLCipher database.
type SQLJournal struct {
	db     *sql.DB
	dbPath string
}

// OpenJournal opens (or creates) the journal under dataDir, creating the
// key file on first use.
func OpenJournal(dataDir string) (*SQLJournal, error) {
	key, err := ensureJournalKey(filepath.Join(dataDir, journalKeyName))
	if err != nil {
		return nil, err
	}
	return NewSQLJournal(dataDir, key)
}

// NewSQLJournal opens the journal database with key as the SQLCipher passphrase.
func NewSQLJournal(dataDir string, key []byte) (*SQLJournal, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, journalDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mute journal: %w", err)
	}
	// Only the proxy goroutine writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to mute journal: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS muted (
		pid INTEGER PRIMARY KEY,
		started_at INTEGER NOT NULL,
		muted_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &SQLJournal{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (j *SQLJournal) Path() string {
	return j.dbPath
}

// Record marks pid as muted.
func (j *SQLJournal) Record(pid int, startedAt time.Time) error {
	var started int64
	if !startedAt.IsZero() {
		started = startedAt.UnixMilli()
	}
	_, err := j.db.Exec(`INSERT OR REPLACE INTO muted (pid, started_at, muted_at) VALUES (?, ?, ?)`,
		pid, started, time.Now().UnixMilli())
	return err
}

// Forget removes pid from the journal.
func (j *SQLJournal) Forget(pid int) error {
	_, err := j.db.Exec(`DELETE FROM muted WHERE pid = ?`, pid)
	return err
}

// Pending returns every journaled pid with its recorded start time.
func (j *SQLJournal) Pending() (map[int]time.Time, error) {
	rows, err := j.db.Query(`SELECT pid, started_at FROM muted`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := make(map[int]time.Time)
	for rows.Next() {
		var pid int
		var started int64
		if err := rows.Scan(&pid, &started); err != nil {
			return nil, err
		}
		if started == 0 {
			pending[pid] = time.Time{}
		} else {
			pending[pid] = time.UnixMilli(started)
		}
	}
	return pending, rows.Err()
}

// Close releases the database connection.
func (j *SQLJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// ensureJournalKey reads the base64 key at path, generating it if missing.
func ensureJournalKey(path string) ([]byte, error) {
	encoded, err := os.ReadFile(path)
	if err == nil {
		key, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return nil, fmt.Errorf("failed to decode journal key: %w", err)
		}
		if len(key) != journalKeySize {
			return nil, fmt.Errorf("invalid journal key size: got %d, want %d", len(key), journalKeySize)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read journal key: %w", err)
	}

	key := make([]byte, journalKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate journal key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write journal key: %w", err)
	}
	return key, nil
}

// JournalingBackend records successful mutes in a journal so that a crash
// never leaves a process muted across restarts.
type JournalingBackend struct {
	next      domain.MuteBackend
	journal   domain.MuteJournal
	processes domain.ProcessDirectory
	logger    *zap.Logger
}

// NewJournalingBackend wraps next.
func NewJournalingBackend(next domain.MuteBackend, journal domain.MuteJournal, processes domain.ProcessDirectory, logger *zap.Logger) *JournalingBackend {
	return &JournalingBackend{next: next, journal: journal, processes: processes, logger: logger}
}

// SetMute forwards to the wrapped backend and updates the journal on success.
func (b *JournalingBackend) SetMute(pid int, mute bool) error {
	if err := b.next.SetMute(pid, mute); err != nil {
		return err
	}

	var err error
	if mute {
		startedAt, _ := b.processes.StartTime(pid)
		err = b.journal.Record(pid, startedAt)
	} else {
		err = b.journal.Forget(pid)
	}
	if err != nil {
		b.logger.Warn("failed to update mute journal",
			zap.Int("pid", pid),
			zap.Bool("mute", mute),
			zap.Error(err))
	}
	return nil
}

// RecoverJournal unmutes every journaled process that is still the same
// process (matching start time), then clears the journal. Returns how many
// processes were unmuted.
func RecoverJournal(journal domain.MuteJournal, backend domain.MuteBackend, processes domain.ProcessDirectory, logger *zap.Logger) (int, error) {
	pending, err := journal.Pending()
	if err != nil {
		return 0, fmt.Errorf("failed to read mute journal: %w", err)
	}

	recovered := 0
	for pid, recorded := range pending {
		current, alive := processes.StartTime(pid)
		if alive && sameProcess(recorded, current) {
			if err := backend.SetMute(pid, false); err != nil {
				logger.Warn("could not release journaled mute", zap.Int("pid", pid), zap.Error(err))
			} else {
				recovered++
				logger.Info("released mute left by previous run", zap.Int("pid", pid))
			}
		}
		if err := journal.Forget(pid); err != nil {
			return recovered, err
		}
	}
	return recovered, nil
}

// sameProcess guards against pid reuse. An unknown recorded start matches.
func sameProcess(recorded, current time.Time) bool {
	if recorded.IsZero() {
		return true
	}
	d := current.Sub(recorded)
	return d > -time.Second && d < time.Second
}

// Ensure SQLJournal implements domain.MuteJournal.
var _ domain.MuteJournal = (*SQLJournal)(nil)
var _ domain.MuteBackend = (*JournalingBackend)(nil)
