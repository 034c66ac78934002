package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rewards-engine/internal/db"
	"github.com/sells-group/rewards-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool      db.Pool
	closeFn   func()
	chunkSize int
	now       func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const uniqueViolation = "23505"

var grantColumns = []string{"id", "rule_id", "employee_id", "event_id", "points_awarded", "created_at"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, chunkSize: DefaultChunkSize, now: utcNow}, nil
}

func utcNow() time.Time { return time.Now().UTC() }

// SetChunkSize sets the number of grant rows per COPY batch.
func (s *PostgresStore) SetChunkSize(n int) {
	if n > 0 {
		s.chunkSize = n
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS employees (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	point_balance BIGINT NOT NULL DEFAULT 0,
	onboarded     BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL REFERENCES employees(id),
	type        TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reward_rules (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL DEFAULT 'shift',
	conditions  JSONB NOT NULL,
	points      BIGINT NOT NULL CHECK (points > 0),
	active      BOOLEAN NOT NULL DEFAULT true,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reward_grants (
	id             TEXT PRIMARY KEY,
	rule_id        TEXT NOT NULL REFERENCES reward_rules(id),
	employee_id    TEXT NOT NULL REFERENCES employees(id),
	event_id       TEXT NOT NULL REFERENCES events(id),
	points_awarded BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (rule_id, event_id)
);

CREATE INDEX IF NOT EXISTS idx_events_employee_id ON events(employee_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_reward_rules_active ON reward_rules(active);
CREATE INDEX IF NOT EXISTS idx_reward_grants_employee_id ON reward_grants(employee_id);
CREATE INDEX IF NOT EXISTS idx_employees_point_balance ON employees(point_balance DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Rules ---

const ruleColumns = `id, name, description, event_type, conditions, points, active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*model.Rule, error) {
	var r model.Rule
	var conds []byte
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.EventType, &conds, &r.Points, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conds, &r.Conditions); err != nil {
		return nil, eris.Wrapf(err, "decode conditions of rule %s", r.ID)
	}
	return &r, nil
}

func (s *PostgresStore) CreateRule(ctx context.Context, r model.Rule) (*model.Rule, error) {
	stamp(&r.ID, &r.CreatedAt, s.now())
	r.UpdatedAt = r.CreatedAt

	conds, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal conditions")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reward_rules (`+ruleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.Name, r.Description, r.EventType, conds, r.Points, r.Active, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err, "postgres: insert rule")
	}
	return &r, nil
}

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	r, err := scanRule(s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM reward_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("rule", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get rule %s", id)
	}
	return r, nil
}

func (s *PostgresStore) UpdateRule(ctx context.Context, r model.Rule) (*model.Rule, error) {
	r.UpdatedAt = s.now()
	conds, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal conditions")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE reward_rules SET name = $1, description = $2, event_type = $3, conditions = $4, points = $5, active = $6, updated_at = $7 WHERE id = $8`,
		r.Name, r.Description, r.EventType, conds, r.Points, r.Active, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update rule %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return nil, model.NotFound("rule", r.ID)
	}
	return &r, nil
}

func (s *PostgresStore) DeactivateRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reward_rules SET active = false, updated_at = $1 WHERE id = $2`,
		s.now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate rule %s", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("rule", id)
	}
	return nil
}

func (s *PostgresStore) ListRules(ctx context.Context, filter model.RuleFilter) ([]model.Rule, int, error) {
	filter = filter.Normalize()

	where := ` WHERE true`
	var args []any
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where += fmt.Sprintf(` AND active = $%d`, len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM reward_rules`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count rules")
	}

	query := `SELECT ` + ruleColumns + ` FROM reward_rules` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rules, err := s.queryRules(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list rules")
	}
	return rules, total, nil
}

func (s *PostgresStore) ActiveRules(ctx context.Context) ([]model.Rule, error) {
	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM reward_rules WHERE active = true ORDER BY created_at`)
	return rules, eris.Wrap(err, "postgres: active rules")
}

func (s *PostgresStore) queryRules(ctx context.Context, query string, args ...any) ([]model.Rule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (s *PostgresStore) CreateEmployee(ctx context.Context, e model.Employee) (*model.Employee, error) {
	stamp(&e.ID, &e.CreatedAt, s.now())
	e.UpdatedAt = e.CreatedAt
	_, err := s.pool.Exec(ctx,
		`INSERT INTO employees (id, name, point_balance, onboarded, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Name, e.PointBalance, e.Onboarded, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err, "postgres: insert employee")
	}
	return &e, nil
}

func (s *PostgresStore) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, point_balance, onboarded, created_at, updated_at FROM employees ORDER BY point_balance DESC, name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list employees")
	}
	defer rows.Close()

	out := []model.Employee{}
	for rows.Next() {
		var e model.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.PointBalance, &e.Onboarded, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan employee")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list employees")
}

func (s *PostgresStore) GetEmployee(ctx context.Context, id string) (*model.EmployeeDetail, error) {
	var d model.EmployeeDetail
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, point_balance, onboarded, created_at, updated_at FROM employees WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.PointBalance, &d.Onboarded, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("employee", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get employee %s", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT g.id, g.rule_id, g.employee_id, g.event_id, g.points_awarded, g.created_at, r.name
		FROM reward_grants g JOIN reward_rules r ON r.id = g.rule_id
		WHERE g.employee_id = $1 ORDER BY g.created_at DESC`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: grants of employee %s", id)
	}
	defer rows.Close()

	d.Grants = []model.GrantDetail{}
	for rows.Next() {
		var g model.GrantDetail
		if err := rows.Scan(&g.ID, &g.RuleID, &g.EmployeeID, &g.EventID, &g.PointsAwarded, &g.CreatedAt, &g.RuleName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan grant")
		}
		d.Grants = append(d.Grants, g)
	}
	return &d, eris.Wrap(rows.Err(), "postgres: grants of employee")
}

func (s *PostgresStore) CreateEvent(ctx context.Context, e model.Event) (*model.Event, error) {
	stamp(&e.ID, &e.CreatedAt, s.now())
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal metadata")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, employee_id, type, timestamp, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.EmployeeID, e.Type, e.Timestamp.UTC(), meta, e.CreatedAt,
	)
	if err != nil {
		return nil, classify(err, "postgres: insert event")
	}
	return &e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, ids []string) ([]model.Event, error) {
	query := `SELECT id, employee_id, type, timestamp, metadata, created_at FROM events`
	var args []any
	if len(ids) > 0 {
		query += ` WHERE id = ANY($1)`
		args = append(args, ids)
	}
	query += ` ORDER BY timestamp`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	out := []model.Event{}
	for rows.Next() {
		var e model.Event
		var meta []byte
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.Type, &e.Timestamp, &meta, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, eris.Wrapf(err, "postgres: decode metadata of event %s", e.ID)
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list events")
}

// --- Grants ---

func (s *PostgresStore) GrantKeys(ctx context.Context) (map[model.GrantKey]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT rule_id, event_id FROM reward_grants`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: grant keys")
	}
	defer rows.Close()

	keys := make(map[model.GrantKey]struct{})
	for rows.Next() {
		var k model.GrantKey
		if err := rows.Scan(&k.RuleID, &k.EventID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan grant key")
		}
		keys[k] = struct{}{}
	}
	return keys, eris.Wrap(rows.Err(), "postgres: grant keys")
}

// CommitGrants copies grants in chunks and applies balance deltas in one
// transaction. Deltas are applied in employee id order.
func (s *PostgresStore) CommitGrants(ctx context.Context, grants []model.Grant, deltas map[string]int64) error {
	if len(grants) == 0 && len(deltas) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin commit grants")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := s.now()
	rows := make([][]any, len(grants))
	for i, g := range grants {
		if g.CreatedAt.IsZero() {
			g.CreatedAt = now
		}
		rows[i] = []any{g.ID, g.RuleID, g.EmployeeID, g.EventID, g.PointsAwarded, g.CreatedAt}
	}
	if _, err := db.CopyChunked(ctx, tx, "reward_grants", grantColumns, rows, s.chunkSize); err != nil {
		return classify(err, "postgres: insert grants")
	}

	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		tag, err := tx.Exec(ctx,
			`UPDATE employees SET point_balance = point_balance + $1, updated_at = $2 WHERE id = $3`,
			deltas[id], now, id,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: apply delta to %s", id)
		}
		if tag.RowsAffected() == 0 {
			return model.NotFound("employee", id)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit grants")
}

// classify maps unique violations to model.ErrConflict.
func classify(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return model.Conflict(err, msg)
	}
	return eris.Wrap(err, msg)
}
