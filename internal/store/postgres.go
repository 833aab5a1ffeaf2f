package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsense/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock implements it,
// which keeps the Postgres paths testable without a live database.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const upsertLeadSQL = `
INSERT INTO leads
  (id, agent_id, conversation_id, tenant_id, name, company, role, email, phone,
   industry, company_size, interest, intent_level, score, qualified, status,
   source_channel, tags, extras, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
ON CONFLICT (agent_id, conversation_id) DO UPDATE SET
  tenant_id      = COALESCE(NULLIF(EXCLUDED.tenant_id, ''), leads.tenant_id),
  name           = COALESCE(NULLIF(EXCLUDED.name, ''), leads.name),
  company        = COALESCE(NULLIF(EXCLUDED.company, ''), leads.company),
  role           = COALESCE(NULLIF(EXCLUDED.role, ''), leads.role),
  email          = COALESCE(NULLIF(EXCLUDED.email, ''), leads.email),
  phone          = COALESCE(NULLIF(EXCLUDED.phone, ''), leads.phone),
  industry       = COALESCE(NULLIF(EXCLUDED.industry, ''), leads.industry),
  company_size   = COALESCE(NULLIF(EXCLUDED.company_size, ''), leads.company_size),
  interest       = COALESCE(NULLIF(EXCLUDED.interest, ''), leads.interest),
  source_channel = COALESCE(NULLIF(EXCLUDED.source_channel, ''), leads.source_channel),
  intent_level   = EXCLUDED.intent_level,
  score          = EXCLUDED.score,
  qualified      = leads.qualified OR EXCLUDED.qualified,
  extras         = COALESCE(leads.extras, '{}'::jsonb) || COALESCE(EXCLUDED.extras, '{}'::jsonb),
  updated_at     = EXCLUDED.updated_at
RETURNING id, agent_id, conversation_id, tenant_id, name, company, role, email, phone,
  industry, company_size, interest, intent_level, score, qualified, status,
  source_channel, tags, extras, created_at, updated_at, (xmax = 0) AS inserted`

const insertEventSQL = `INSERT INTO lead_events (id, lead_id, type, payload, created_at) VALUES ($1, $2, $3, $4, $5)`

const insertSnapshotSQL = `INSERT INTO score_snapshots (id, lead_id, score, rationale, created_at) VALUES ($1, $2, $3, $4, $5)`

// insertNotificationSQL records the send only while the tenant's count since
// the cutoff is under the cap, so the check and the insert are one atomic
// statement.
const insertNotificationSQL = `
INSERT INTO notifications (id, lead_id, tenant_id, sent_at)
SELECT $1, $2, $3, $4
WHERE (SELECT COUNT(*) FROM notifications WHERE tenant_id = $5 AND sent_at >= $6) < $7`

const insertNotificationUncappedSQL = `INSERT INTO notifications (id, lead_id, tenant_id, sent_at) VALUES ($1, $2, $3, $4)`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot pipeline path.
var preparedStatements = map[string]string{
	"upsert_lead":         upsertLeadSQL,
	"insert_event":        insertEventSQL,
	"insert_snapshot":     insertSnapshotSQL,
	"insert_notification": insertNotificationSQL,
}

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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	agent_id        TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL,
	tenant_id       TEXT NOT NULL DEFAULT '',
	name            TEXT NOT NULL DEFAULT '',
	company         TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	industry        TEXT NOT NULL DEFAULT '',
	company_size    TEXT NOT NULL DEFAULT '',
	interest        TEXT NOT NULL DEFAULT '',
	intent_level    TEXT NOT NULL DEFAULT 'none',
	score           INTEGER NOT NULL DEFAULT 0,
	qualified       BOOLEAN NOT NULL DEFAULT false,
	status          TEXT NOT NULL DEFAULT 'new',
	source_channel  TEXT NOT NULL DEFAULT '',
	tags            JSONB,
	extras          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_conversation ON leads(agent_id, conversation_id);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(score);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);

CREATE TABLE IF NOT EXISTS lead_events (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	type       TEXT NOT NULL,
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lead_events_lead_id ON lead_events(lead_id);

CREATE TABLE IF NOT EXISTS score_snapshots (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	score      INTEGER NOT NULL,
	rationale  JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_score_snapshots_lead_id ON score_snapshots(lead_id);

CREATE TABLE IF NOT EXISTS notifications (
	id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id   TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	sent_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notifications_tenant_sent_at ON notifications(tenant_id, sent_at);

CREATE TABLE IF NOT EXISTS automation_rules (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id      TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL,
	is_active      BOOLEAN NOT NULL DEFAULT true,
	trigger_event  TEXT NOT NULL,
	trigger_filter JSONB,
	action_type    TEXT NOT NULL,
	action_config  JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS automation_logs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	rule_id    TEXT NOT NULL,
	lead_id    TEXT NOT NULL,
	event_type TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT,
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_automation_logs_lead_id ON automation_logs(lead_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertLead(ctx context.Context, up model.LeadUpsert) (*model.Lead, bool, error) {
	now := time.Now().UTC()
	candidate := newLead(uuid.New().String(), up, now)

	var extrasJSON []byte
	if len(candidate.Extras) > 0 {
		var err error
		extrasJSON, err = json.Marshal(candidate.Extras)
		if err != nil {
			return nil, false, eris.Wrap(err, "postgres: marshal extras")
		}
	}

	row := s.pool.QueryRow(ctx, upsertLeadSQL,
		candidate.ID, candidate.AgentID, candidate.ConversationID, candidate.TenantID,
		candidate.Name, candidate.Company, candidate.Role, candidate.Email, candidate.Phone,
		candidate.Industry, candidate.CompanySize, candidate.Interest,
		string(candidate.IntentLevel), candidate.Score, candidate.Qualified, candidate.Status,
		candidate.SourceChannel, nil, extrasJSON, now, now,
	)

	var l model.Lead
	var tagsJSON, storedExtras []byte
	var inserted bool
	err := row.Scan(
		&l.ID, &l.AgentID, &l.ConversationID, &l.TenantID,
		&l.Name, &l.Company, &l.Role, &l.Email, &l.Phone,
		&l.Industry, &l.CompanySize, &l.Interest,
		&l.IntentLevel, &l.Score, &l.Qualified, &l.Status,
		&l.SourceChannel, &tagsJSON, &storedExtras, &l.CreatedAt, &l.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: upsert lead")
	}
	if err := decodeLeadJSON(&l, tagsJSON, storedExtras); err != nil {
		return nil, false, err
	}
	return &l, inserted, nil
}

const pgLeadColumns = `id, agent_id, conversation_id, tenant_id, name, company, role, email, phone,
	 industry, company_size, interest, intent_level, score, qualified, status,
	 source_channel, tags, extras, created_at, updated_at`

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgLeadColumns+` FROM leads WHERE id = $1`, id)
	return scanPgLead(row)
}

func (s *PostgresStore) FindByConversation(ctx context.Context, key model.ConversationKey) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgLeadColumns+` FROM leads WHERE agent_id = $1 AND conversation_id = $2`,
		key.AgentID, key.ConversationID,
	)
	return scanPgLead(row)
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + pgLeadColumns + ` FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.AgentID != "" {
		query += fmt.Sprintf(` AND agent_id = $%d`, argIdx)
		args = append(args, filter.AgentID)
		argIdx++
	}
	if filter.Qualified != nil {
		query += fmt.Sprintf(` AND qualified = $%d`, argIdx)
		args = append(args, *filter.Qualified)
		argIdx++
	}
	if filter.MinScore > 0 {
		query += fmt.Sprintf(` AND score >= $%d`, argIdx)
		args = append(args, filter.MinScore)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.IntentLevel != "" {
		query += fmt.Sprintf(` AND intent_level = $%d`, argIdx)
		args = append(args, string(filter.IntentLevel))
		argIdx++
	}
	query += ` ORDER BY score DESC, updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLeadRow(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id string, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev model.LeadEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	var payload []byte
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}
	_, err := s.pool.Exec(ctx, insertEventSQL,
		ev.ID, ev.LeadID, string(ev.Type), payload, ev.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append %s event", ev.Type)
}

func (s *PostgresStore) ListEvents(ctx context.Context, leadID string, limit int) ([]model.LeadEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, type, payload, created_at FROM lead_events
		 WHERE lead_id = $1 ORDER BY created_at DESC LIMIT $2`,
		leadID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.LeadEvent
	for rows.Next() {
		var ev model.LeadEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.LeadID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if len(payload) > 0 {
			ev.Payload = json.RawMessage(payload)
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func (s *PostgresStore) AppendScoreSnapshot(ctx context.Context, snap model.ScoreSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	rationaleJSON, err := json.Marshal(snap.Rationale)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal rationale")
	}
	_, err = s.pool.Exec(ctx, insertSnapshotSQL,
		snap.ID, snap.LeadID, snap.Score, rationaleJSON, snap.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append score snapshot")
}

func (s *PostgresStore) RecordNotification(ctx context.Context, leadID, tenantID string, since time.Time, maxDaily int) (bool, error) {
	if maxDaily <= 0 {
		_, err := s.pool.Exec(ctx, insertNotificationUncappedSQL,
			uuid.New().String(), leadID, tenantID, time.Now().UTC(),
		)
		return err == nil, eris.Wrap(err, "postgres: record notification")
	}

	tag, err := s.pool.Exec(ctx, insertNotificationSQL,
		uuid.New().String(), leadID, tenantID, time.Now().UTC(),
		tenantID, since.UTC(), maxDaily,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: record notification")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CountNotificationsSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE tenant_id = $1 AND sent_at >= $2`,
		tenantID, since.UTC(),
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count notifications")
}

func (s *PostgresStore) ListActiveRules(ctx context.Context, tenantID string) ([]model.AutomationRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, is_active, trigger_event, trigger_filter, action_type, action_config, created_at
		 FROM automation_rules
		 WHERE is_active = true AND (tenant_id = '' OR tenant_id = $1)
		 ORDER BY name`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rules")
	}
	defer rows.Close()

	var rules []model.AutomationRule
	for rows.Next() {
		var r model.AutomationRule
		var filterJSON, configJSON []byte
		err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.IsActive, &r.TriggerEvent,
			&filterJSON, &r.ActionType, &configJSON, &r.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		if len(filterJSON) > 0 {
			if err := json.Unmarshal(filterJSON, &r.Filter); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal rule filter")
			}
		}
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &r.ActionConfig); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal rule config")
			}
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: list rules iterate")
}

func (s *PostgresStore) ReplaceRules(ctx context.Context, rules []model.AutomationRule) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM automation_rules`); err != nil {
		return eris.Wrap(err, "postgres: clear rules")
	}

	now := time.Now().UTC()
	for _, r := range rules {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		filterJSON, err := json.Marshal(r.Filter)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal filter for rule %s", r.Name)
		}
		configJSON, err := json.Marshal(r.ActionConfig)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal config for rule %s", r.Name)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO automation_rules
			 (id, tenant_id, name, is_active, trigger_event, trigger_filter, action_type, action_config, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.ID, r.TenantID, r.Name, r.IsActive, string(r.TriggerEvent),
			filterJSON, string(r.ActionType), configJSON, createdAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert rule %s", r.Name)
		}
	}
	return nil
}

func (s *PostgresStore) AppendAutomationLog(ctx context.Context, entry model.AutomationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var payload []byte
	if len(entry.Payload) > 0 {
		payload = entry.Payload
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO automation_logs (id, rule_id, lead_id, event_type, status, message, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.RuleID, entry.LeadID, string(entry.EventType),
		string(entry.Status), entry.Message, payload, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append automation log")
}

// helpers

func decodeLeadJSON(l *model.Lead, tagsJSON, extrasJSON []byte) error {
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &l.Tags); err != nil {
			return eris.Wrap(err, "postgres: unmarshal tags")
		}
	}
	if len(extrasJSON) > 0 {
		if err := json.Unmarshal(extrasJSON, &l.Extras); err != nil {
			return eris.Wrap(err, "postgres: unmarshal extras")
		}
	}
	return nil
}

func scanPgLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var tagsJSON, extrasJSON []byte

	err := row.Scan(
		&l.ID, &l.AgentID, &l.ConversationID, &l.TenantID,
		&l.Name, &l.Company, &l.Role, &l.Email, &l.Phone,
		&l.Industry, &l.CompanySize, &l.Interest,
		&l.IntentLevel, &l.Score, &l.Qualified, &l.Status,
		&l.SourceChannel, &tagsJSON, &extrasJSON, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: scan lead")
	}
	if err := decodeLeadJSON(&l, tagsJSON, extrasJSON); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanPgLeadRow(rows pgx.Rows) (*model.Lead, error) {
	return scanPgLead(rows)
}
