package devrecorder

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/httprunner/scanrig"
)

// JournalFile is the sqlite file created inside a session directory.
const JournalFile = "events.sqlite"

const eventTable = "capture_events"

// EventRecorder persists coordinator events.
type EventRecorder interface {
	scanrig.Observer
	Close() error
}

// NoopRecorder is used when journaling is disabled.
type NoopRecorder struct{}

func (NoopRecorder) Notify(scanrig.Event) {}

func (NoopRecorder) Close() error { return nil }

// Journal appends every event of a session to a sqlite table.
type Journal struct {
	db      *sql.DB
	session string
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// Open returns a Journal writing to dir/events.sqlite when enabled, and a
// NoopRecorder otherwise.
func Open(dir, session string, enabled bool) (EventRecorder, error) {
	if !enabled {
		return NoopRecorder{}, nil
	}
	return OpenJournal(filepath.Join(dir, JournalFile), session)
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path, session string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "journal: open sqlite")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, session: strings.TrimSpace(session), timeout: 5 * time.Second}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "journal: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + eventTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			EventID TEXT NOT NULL UNIQUE,
			Session TEXT,
			OperationID TEXT,
			Kind TEXT NOT NULL,
			Role TEXT,
			Serial TEXT,
			Address TEXT,
			PreviousAddress TEXT,
			Filename TEXT,
			ExitCode INTEGER,
			TimedOut INTEGER,
			ElapsedMs INTEGER,
			Mode TEXT,
			Verify INTEGER,
			Sequence INTEGER,
			ErrorKind TEXT,
			Error TEXT,
			RecordedAt INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_` + eventTable + `_operation ON ` + eventTable + ` (OperationID);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "journal: prepare schema")
		}
	}
	return nil
}

// Notify records ev. Write failures are logged; the capture loop never
// blocks on the journal.
func (j *Journal) Notify(ev scanrig.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.Record(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", string(ev.Kind)).Msg("journal: record event failed")
	}
}

// Record inserts one event.
func (j *Journal) Record(ctx context.Context, ev scanrig.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return pkgerrors.New("journal: closed")
	}
	role := ""
	if ev.Role != scanrig.RoleNone {
		role = ev.Role.String()
	}
	recordedAt := ev.Time
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `INSERT OR IGNORE INTO `+eventTable+` (
			EventID, Session, OperationID, Kind, Role, Serial, Address, PreviousAddress,
			Filename, ExitCode, TimedOut, ElapsedMs, Mode, Verify, Sequence, ErrorKind, Error, RecordedAt
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, j.session, ev.OperationID, string(ev.Kind), role, ev.Identity, ev.Address, ev.PreviousAddress,
		ev.Filename, ev.ExitCode, boolToInt(ev.TimedOut), ev.Elapsed.Milliseconds(), string(ev.Mode),
		boolToInt(ev.Verify), ev.Sequence, string(ev.ErrorKind), ev.Error, recordedAt.UnixMilli(),
	)
	if err != nil {
		return pkgerrors.Wrap(err, "journal: insert event")
	}
	return nil
}

// Entry is one journal row.
type Entry struct {
	EventID     string
	OperationID string
	Kind        scanrig.EventKind
	Role        string
	Serial      string
	Address     string
	Filename    string
	ExitCode    int
	ErrorKind   string
	RecordedAt  time.Time
}

// Entries returns the journal rows in insertion order, optionally restricted
// to one operation.
func (j *Journal) Entries(ctx context.Context, operationID string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	query := `SELECT EventID, OperationID, Kind, Role, Serial, Address, Filename, ExitCode, ErrorKind, RecordedAt
		FROM ` + eventTable
	var args []any
	if operationID != "" {
		query += ` WHERE OperationID = ?`
		args = append(args, operationID)
	}
	query += ` ORDER BY id`
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "journal: query events")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			kind       string
			recordedAt int64
		)
		if err := rows.Scan(&e.EventID, &e.OperationID, &kind, &e.Role, &e.Serial, &e.Address, &e.Filename, &e.ExitCode, &e.ErrorKind, &recordedAt); err != nil {
			return nil, pkgerrors.Wrap(err, "journal: scan event")
		}
		e.Kind = scanrig.EventKind(kind)
		e.RecordedAt = time.UnixMilli(recordedAt)
		entries = append(entries, e)
	}
	return entries, pkgerrors.Wrap(rows.Err(), "journal: iterate events")
}

// CountByKind returns how many events of each kind were recorded.
func (j *Journal) CountByKind(ctx context.Context) (map[scanrig.EventKind]int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx, `SELECT Kind, COUNT(*) FROM `+eventTable+` GROUP BY Kind`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "journal: count events")
	}
	defer rows.Close()
	counts := make(map[scanrig.EventKind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, pkgerrors.Wrap(err, "journal: scan count")
		}
		counts[scanrig.EventKind(kind)] = n
	}
	return counts, pkgerrors.Wrap(rows.Err(), "journal: iterate counts")
}

// Close flushes and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
