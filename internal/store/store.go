// Package store is the durable, single-file persistence layer: a
// workspace's contracts, events, resource leases, and module toggles all
// live in one sqlite database, guarded against concurrent writers from
// another process by an on-disk file lock.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/edhor1608/stead/internal/contract"
	"github.com/edhor1608/stead/internal/resource"
)

const timeLayout = time.RFC3339Nano

// Store is the sqlite-backed implementation of contract.Store and
// resource.Store. A single Store is meant to be shared by every broker and
// engine in a daemon process; the workspace-level exclusivity guarantee
// comes from the file lock acquired in Open, not from anything sqlite
// itself provides.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

// Option customizes a Store during construction.
type Option func(*Store)

// WithClock overrides the clock used for timestamps recorded by the store
// itself (event sequencing still comes from sqlite's AUTOINCREMENT).
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Open locks path+".lock" and opens (creating if needed) the sqlite
// database at path, applying schema migrations idempotently. The lock is
// released when Close is called; while it is held, a second Open of the
// same path fails immediately with an error instead of waiting.
func Open(path string, opts ...Option) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("store: acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("store: %s is already held by another process", path)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, lock: lock, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Close releases the sqlite handle and the workspace file lock.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()
	if dbErr != nil {
		return dbErr
	}
	return lockErr
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contracts (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			verify_cmd TEXT NOT NULL,
			rollback_cmd TEXT NOT NULL,
			state TEXT NOT NULL,
			owner TEXT NOT NULL DEFAULT '',
			depends_on TEXT NOT NULL DEFAULT '[]',
			output TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			claimed_at TEXT,
			started_at TEXT,
			completed_at TEXT,
			cancelled_at TEXT,
			rolled_back_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contracts_state ON contracts(state)`,
		`CREATE TABLE IF NOT EXISTS events (
			sequence INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			contract_id TEXT NOT NULL DEFAULT '',
			from_state TEXT NOT NULL DEFAULT '',
			to_state TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_contract ON events(contract_id)`,
		`CREATE TABLE IF NOT EXISTS leases (
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			value INTEGER NOT NULL,
			state TEXT NOT NULL,
			PRIMARY KEY (kind, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leases_value ON leases(kind, value)`,
		`CREATE TABLE IF NOT EXISTS escalations (
			sequence INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			code TEXT NOT NULL,
			reason TEXT NOT NULL,
			at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS modules (
			name TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// --- contract.Store ---

func encodeDependsOn(deps []string) string {
	if len(deps) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(deps)
	return string(b)
}

func decodeDependsOn(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func (s *Store) CreateContract(c contract.Contract) error {
	_, err := s.db.Exec(
		`INSERT INTO contracts (id, task, verify_cmd, rollback_cmd, state, owner, depends_on,
			output, failure_reason, created_at, claimed_at, started_at, completed_at,
			cancelled_at, rolled_back_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Task, c.VerifyCmd, c.RollbackCmd, string(c.State), c.Owner, encodeDependsOn(c.DependsOn),
		c.Output, c.FailureReason, c.CreatedAt.UTC().Format(timeLayout),
		formatTimePtr(c.ClaimedAt), formatTimePtr(c.StartedAt), formatTimePtr(c.CompletedAt),
		formatTimePtr(c.CancelledAt), formatTimePtr(c.RolledBackAt),
	)
	if err != nil {
		return fmt.Errorf("store: create contract %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) SaveContract(c contract.Contract) error {
	_, err := s.db.Exec(
		`UPDATE contracts SET task=?, verify_cmd=?, rollback_cmd=?, state=?, owner=?,
			depends_on=?, output=?, failure_reason=?, claimed_at=?, started_at=?,
			completed_at=?, cancelled_at=?, rolled_back_at=?
		WHERE id=?`,
		c.Task, c.VerifyCmd, c.RollbackCmd, string(c.State), c.Owner, encodeDependsOn(c.DependsOn),
		c.Output, c.FailureReason, formatTimePtr(c.ClaimedAt), formatTimePtr(c.StartedAt),
		formatTimePtr(c.CompletedAt), formatTimePtr(c.CancelledAt), formatTimePtr(c.RolledBackAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("store: save contract %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetContract(id string) (contract.Contract, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, task, verify_cmd, rollback_cmd, state, owner, depends_on, output,
			failure_reason, created_at, claimed_at, started_at, completed_at, cancelled_at,
			rolled_back_at FROM contracts WHERE id=?`, id)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return contract.Contract{}, false, nil
	}
	if err != nil {
		return contract.Contract{}, false, fmt.Errorf("store: get contract %s: %w", id, err)
	}
	return c, true, nil
}

func (s *Store) ListContracts() ([]contract.Contract, error) {
	rows, err := s.db.Query(
		`SELECT id, task, verify_cmd, rollback_cmd, state, owner, depends_on, output,
			failure_reason, created_at, claimed_at, started_at, completed_at, cancelled_at,
			rolled_back_at FROM contracts`)
	if err != nil {
		return nil, fmt.Errorf("store: list contracts: %w", err)
	}
	defer rows.Close()
	return scanContracts(rows)
}

func (s *Store) ListContractsByState(states ...contract.State) ([]contract.Contract, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	query := fmt.Sprintf(
		`SELECT id, task, verify_cmd, rollback_cmd, state, owner, depends_on, output,
			failure_reason, created_at, claimed_at, started_at, completed_at, cancelled_at,
			rolled_back_at FROM contracts WHERE state IN (%s)`, strings.Join(placeholders, ","))
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list contracts by state: %w", err)
	}
	defer rows.Close()
	return scanContracts(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (contract.Contract, error) {
	var (
		c                                                      contract.Contract
		state, dependsOn, createdAt                            string
		claimedAt, startedAt, completedAt, cancelledAt, rolled sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Task, &c.VerifyCmd, &c.RollbackCmd, &state, &c.Owner, &dependsOn,
		&c.Output, &c.FailureReason, &createdAt, &claimedAt, &startedAt, &completedAt,
		&cancelledAt, &rolled); err != nil {
		return contract.Contract{}, err
	}
	c.State = contract.State(state)
	c.DependsOn = decodeDependsOn(dependsOn)
	c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	c.ClaimedAt = parseTimePtr(claimedAt)
	c.StartedAt = parseTimePtr(startedAt)
	c.CompletedAt = parseTimePtr(completedAt)
	c.CancelledAt = parseTimePtr(cancelledAt)
	c.RolledBackAt = parseTimePtr(rolled)
	return c, nil
}

func scanContracts(rows *sql.Rows) ([]contract.Contract, error) {
	var out []contract.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(e contract.Event) (contract.Event, error) {
	res, err := s.db.Exec(
		`INSERT INTO events (kind, contract_id, from_state, to_state, actor, at, reason, code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.ContractID, string(e.From), string(e.To), string(e.Actor),
		e.At.UTC().Format(timeLayout), e.Reason, e.Code,
	)
	if err != nil {
		return contract.Event{}, fmt.Errorf("store: append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return contract.Event{}, fmt.Errorf("store: append event: %w", err)
	}
	e.Sequence = uint64(id)
	return e, nil
}

func (s *Store) ListEventsForContract(id string) ([]contract.Event, error) {
	rows, err := s.db.Query(
		`SELECT sequence, kind, contract_id, from_state, to_state, actor, at, reason, code
		FROM events WHERE contract_id=? ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("store: list events for %s: %w", id, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) StreamEventsFrom(cursor uint64) ([]contract.Event, error) {
	rows, err := s.db.Query(
		`SELECT sequence, kind, contract_id, from_state, to_state, actor, at, reason, code
		FROM events WHERE sequence > ? ORDER BY sequence ASC`, cursor)
	if err != nil {
		return nil, fmt.Errorf("store: stream events from %d: %w", cursor, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]contract.Event, error) {
	var out []contract.Event
	for rows.Next() {
		var (
			e                  contract.Event
			kind, from, to, at string
			actor              string
		)
		if err := rows.Scan(&e.Sequence, &kind, &e.ContractID, &from, &to, &actor, &at, &e.Reason, &e.Code); err != nil {
			return nil, err
		}
		e.Kind = contract.EventKind(kind)
		e.From = contract.State(from)
		e.To = contract.State(to)
		e.Actor = contract.Actor(actor)
		e.At, _ = time.Parse(timeLayout, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- resource.Store ---

func (s *Store) GetLease(kind, name string) (resource.Lease, bool, error) {
	row := s.db.QueryRow(`SELECT kind, name, owner, value, state FROM leases WHERE kind=? AND name=?`, kind, name)
	l, err := scanLease(row)
	if err == sql.ErrNoRows {
		return resource.Lease{}, false, nil
	}
	if err != nil {
		return resource.Lease{}, false, fmt.Errorf("store: get lease %s/%s: %w", kind, name, err)
	}
	return l, true, nil
}

func (s *Store) GetLeaseByValue(kind string, value int) (resource.Lease, bool, error) {
	row := s.db.QueryRow(
		`SELECT kind, name, owner, value, state FROM leases WHERE kind=? AND value=? AND state='active'`,
		kind, value)
	l, err := scanLease(row)
	if err == sql.ErrNoRows {
		return resource.Lease{}, false, nil
	}
	if err != nil {
		return resource.Lease{}, false, fmt.Errorf("store: get lease by value %s/%d: %w", kind, value, err)
	}
	return l, true, nil
}

func scanLease(row rowScanner) (resource.Lease, error) {
	var l resource.Lease
	var state string
	if err := row.Scan(&l.Kind, &l.Name, &l.Owner, &l.Value, &state); err != nil {
		return resource.Lease{}, err
	}
	l.State = resource.LeaseState(state)
	return l, nil
}

func (s *Store) SaveLease(l resource.Lease) error {
	_, err := s.db.Exec(
		`INSERT INTO leases (kind, name, owner, value, state) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, name) DO UPDATE SET owner=excluded.owner, value=excluded.value, state=excluded.state`,
		l.Kind, l.Name, l.Owner, l.Value, string(l.State),
	)
	if err != nil {
		return fmt.Errorf("store: save lease %s/%s: %w", l.Kind, l.Name, err)
	}
	return nil
}

func (s *Store) ListActiveLeases(kind string) ([]resource.Lease, error) {
	rows, err := s.db.Query(`SELECT kind, name, owner, value, state FROM leases WHERE kind=? AND state='active'`, kind)
	if err != nil {
		return nil, fmt.Errorf("store: list active leases %s: %w", kind, err)
	}
	defer rows.Close()
	var out []resource.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) AppendEscalation(kind, code, reason string) error {
	at := s.now().UTC().Format(timeLayout)
	_, err := s.db.Exec(
		`INSERT INTO escalations (kind, code, reason, at) VALUES (?, ?, ?, ?)`,
		kind, code, reason, at,
	)
	if err != nil {
		return fmt.Errorf("store: append escalation: %w", err)
	}
	// Also append it to the event log so StreamEventsFrom readers see it.
	_, err = s.db.Exec(
		`INSERT INTO events (kind, at, reason, code) VALUES (?, ?, ?, ?)`,
		string(contract.EventEscalation), at, kind+": "+reason, code,
	)
	if err != nil {
		return fmt.Errorf("store: append escalation event: %w", err)
	}
	return nil
}

// --- module toggles ---

// SetModuleEnabled persists a module's enabled flag, overriding whatever
// default the workspace config declared.
func (s *Store) SetModuleEnabled(name string, enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO modules (name, enabled) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled=excluded.enabled`,
		name, enabledInt,
	)
	if err != nil {
		return fmt.Errorf("store: set module %s: %w", name, err)
	}
	return nil
}

// ModuleEnabled returns the persisted override for name, if one exists.
func (s *Store) ModuleEnabled(name string) (enabled bool, overridden bool, err error) {
	row := s.db.QueryRow(`SELECT enabled FROM modules WHERE name=?`, name)
	var enabledInt int
	if scanErr := row.Scan(&enabledInt); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return false, false, nil
		}
		return false, false, fmt.Errorf("store: module %s: %w", name, scanErr)
	}
	return enabledInt != 0, true, nil
}
