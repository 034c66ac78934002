package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/rewards-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db        *sql.DB
	chunkSize int
	now       func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, chunkSize: DefaultChunkSize, now: utcNow}, nil
}

// SetChunkSize sets the number of grant rows per INSERT statement.
func (s *SQLiteStore) SetChunkSize(n int) {
	if n > 0 {
		s.chunkSize = n
	}
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS employees (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	point_balance INTEGER NOT NULL DEFAULT 0,
	onboarded     INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL REFERENCES employees(id),
	type        TEXT NOT NULL,
	timestamp   DATETIME NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reward_rules (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL DEFAULT 'shift',
	conditions  TEXT NOT NULL,
	points      INTEGER NOT NULL CHECK (points > 0),
	active      INTEGER NOT NULL DEFAULT 1,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reward_grants (
	id             TEXT PRIMARY KEY,
	rule_id        TEXT NOT NULL REFERENCES reward_rules(id),
	employee_id    TEXT NOT NULL REFERENCES employees(id),
	event_id       TEXT NOT NULL REFERENCES events(id),
	points_awarded INTEGER NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (rule_id, event_id)
);

CREATE INDEX IF NOT EXISTS idx_events_employee_id ON events(employee_id);
CREATE INDEX IF NOT EXISTS idx_reward_rules_active ON reward_rules(active);
CREATE INDEX IF NOT EXISTS idx_reward_grants_employee_id ON reward_grants(employee_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Rules ---

func (s *SQLiteStore) CreateRule(ctx context.Context, r model.Rule) (*model.Rule, error) {
	stamp(&r.ID, &r.CreatedAt, s.now())
	r.UpdatedAt = r.CreatedAt

	conds, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal conditions")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reward_rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Description, r.EventType, string(conds), r.Points, r.Active, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, classifySQLite(err, "sqlite: insert rule")
	}
	return &r, nil
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM reward_rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("rule", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get rule %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRule(ctx context.Context, r model.Rule) (*model.Rule, error) {
	r.UpdatedAt = s.now()
	conds, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal conditions")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reward_rules SET name = ?, description = ?, event_type = ?, conditions = ?, points = ?, active = ?, updated_at = ? WHERE id = ?`,
		r.Name, r.Description, r.EventType, string(conds), r.Points, r.Active, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update rule %s", r.ID)
	}
	if err := checkRowsAffected(res, "rule", r.ID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) DeactivateRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reward_rules SET active = 0, updated_at = ? WHERE id = ?`, s.now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate rule %s", id)
	}
	return checkRowsAffected(res, "rule", id)
}

func (s *SQLiteStore) ListRules(ctx context.Context, filter model.RuleFilter) ([]model.Rule, int, error) {
	filter = filter.Normalize()

	where := ` WHERE 1 = 1`
	var args []any
	if filter.Active != nil {
		where += ` AND active = ?`
		args = append(args, *filter.Active)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM reward_rules`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count rules")
	}

	args = append(args, filter.Limit, filter.Offset)
	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM reward_rules`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list rules")
	}
	return rules, total, nil
}

func (s *SQLiteStore) ActiveRules(ctx context.Context) ([]model.Rule, error) {
	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM reward_rules WHERE active = 1 ORDER BY created_at`)
	return rules, eris.Wrap(err, "sqlite: active rules")
}

func (s *SQLiteStore) queryRules(ctx context.Context, query string, args ...any) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	rules := []model.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// --- Employees and events ---

func (s *SQLiteStore) CreateEmployee(ctx context.Context, e model.Employee) (*model.Employee, error) {
	stamp(&e.ID, &e.CreatedAt, s.now())
	e.UpdatedAt = e.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO employees (id, name, point_balance, onboarded, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.PointBalance, e.Onboarded, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return nil, classifySQLite(err, "sqlite: insert employee")
	}
	return &e, nil
}

func (s *SQLiteStore) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, point_balance, onboarded, created_at, updated_at FROM employees ORDER BY point_balance DESC, name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list employees")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.Employee{}
	for rows.Next() {
		var e model.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.PointBalance, &e.Onboarded, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan employee")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list employees")
}

func (s *SQLiteStore) GetEmployee(ctx context.Context, id string) (*model.EmployeeDetail, error) {
	var d model.EmployeeDetail
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, point_balance, onboarded, created_at, updated_at FROM employees WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.PointBalance, &d.Onboarded, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("employee", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get employee %s", id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.rule_id, g.employee_id, g.event_id, g.points_awarded, g.created_at, r.name
		FROM reward_grants g JOIN reward_rules r ON r.id = g.rule_id
		WHERE g.employee_id = ? ORDER BY g.created_at DESC`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: grants of employee %s", id)
	}
	defer rows.Close() //nolint:errcheck

	d.Grants = []model.GrantDetail{}
	for rows.Next() {
		var g model.GrantDetail
		if err := rows.Scan(&g.ID, &g.RuleID, &g.EmployeeID, &g.EventID, &g.PointsAwarded, &g.CreatedAt, &g.RuleName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan grant")
		}
		d.Grants = append(d.Grants, g)
	}
	return &d, eris.Wrap(rows.Err(), "sqlite: grants of employee")
}

func (s *SQLiteStore) CreateEvent(ctx context.Context, e model.Event) (*model.Event, error) {
	stamp(&e.ID, &e.CreatedAt, s.now())
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal metadata")
	}
	e.Timestamp = e.Timestamp.UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, employee_id, type, timestamp, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.EmployeeID, e.Type, e.Timestamp, string(meta), e.CreatedAt,
	)
	if err != nil {
		return nil, classifySQLite(err, "sqlite: insert event")
	}
	return &e, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, ids []string) ([]model.Event, error) {
	query := `SELECT id, employee_id, type, timestamp, metadata, created_at FROM events`
	var args []any
	if len(ids) > 0 {
		query += ` WHERE id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY timestamp`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.Event{}
	for rows.Next() {
		var e model.Event
		var meta string
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.Type, &e.Timestamp, &meta, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode metadata of event %s", e.ID)
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list events")
}

// --- Grants ---

func (s *SQLiteStore) GrantKeys(ctx context.Context) (map[model.GrantKey]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rule_id, event_id FROM reward_grants`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: grant keys")
	}
	defer rows.Close() //nolint:errcheck

	keys := make(map[model.GrantKey]struct{})
	for rows.Next() {
		var k model.GrantKey
		if err := rows.Scan(&k.RuleID, &k.EventID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan grant key")
		}
		keys[k] = struct{}{}
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: grant keys")
}

// CommitGrants inserts grants with chunked multi-row INSERTs and applies
// balance deltas in one transaction.
func (s *SQLiteStore) CommitGrants(ctx context.Context, grants []model.Grant, deltas map[string]int64) error {
	if len(grants) == 0 && len(deltas) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit grants")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
	for _, b := range chunkBounds(len(grants), s.chunkSize) {
		chunk := grants[b[0]:b[1]]
		args := make([]any, 0, len(chunk)*len(grantColumns))
		for _, g := range chunk {
			if g.CreatedAt.IsZero() {
				g.CreatedAt = now
			}
			args = append(args, g.ID, g.RuleID, g.EmployeeID, g.EventID, g.PointsAwarded, g.CreatedAt)
		}
		query := `INSERT INTO reward_grants (` + strings.Join(grantColumns, ", ") + `) VALUES ` + valueRows(len(chunk), len(grantColumns))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return classifySQLite(err, "sqlite: insert grants")
		}
	}

	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE employees SET point_balance = point_balance + ?, updated_at = ? WHERE id = ?`,
			deltas[id], now, id,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: apply delta to %s", id)
		}
		if err := checkRowsAffected(res, "employee", id); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit grants")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func valueRows(rows, cols int) string {
	row := "(" + placeholders(cols) + ")"
	return strings.TrimSuffix(strings.Repeat(row+", ", rows), ", ")
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return model.NotFound(resource, id)
	}
	return nil
}

// classifySQLite maps UNIQUE and PRIMARY KEY violations to model.ErrConflict.
func classifySQLite(err error, msg string) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return model.Conflict(err, msg)
		}
	}
	return eris.Wrap(err, msg)
}
