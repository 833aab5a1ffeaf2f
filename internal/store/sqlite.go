package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadsense/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
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
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// A single connection serializes writers, so concurrent upserts for the
	// same conversation cannot interleave read-merge-write cycles.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id              TEXT PRIMARY KEY,
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
	qualified       INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'new',
	source_channel  TEXT NOT NULL DEFAULT '',
	tags            TEXT,
	extras          TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_conversation ON leads(agent_id, conversation_id);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(score);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);

CREATE TABLE IF NOT EXISTS lead_events (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	type       TEXT NOT NULL,
	payload    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_lead_events_lead_id ON lead_events(lead_id);

CREATE TABLE IF NOT EXISTS score_snapshots (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	score      INTEGER NOT NULL,
	rationale  TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_score_snapshots_lead_id ON score_snapshots(lead_id);

CREATE TABLE IF NOT EXISTS notifications (
	id        TEXT PRIMARY KEY,
	lead_id   TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	sent_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_notifications_tenant_sent_at ON notifications(tenant_id, sent_at);

CREATE TABLE IF NOT EXISTS automation_rules (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL,
	is_active      INTEGER NOT NULL DEFAULT 1,
	trigger_event  TEXT NOT NULL,
	trigger_filter TEXT,
	action_type    TEXT NOT NULL,
	action_config  TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS automation_logs (
	id         TEXT PRIMARY KEY,
	rule_id    TEXT NOT NULL,
	lead_id    TEXT NOT NULL,
	event_type TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT,
	payload    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_automation_logs_lead_id ON automation_logs(lead_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const leadColumns = `id, agent_id, conversation_id, tenant_id, name, company, role, email, phone,
	 industry, company_size, interest, intent_level, score, qualified, status,
	 source_channel, tags, extras, created_at, updated_at`

func (s *SQLiteStore) UpsertLead(ctx context.Context, up model.LeadUpsert) (*model.Lead, bool, error) {
	lead, created, err := s.upsertLeadOnce(ctx, up)
	if err != nil && isUniqueViolation(err) {
		// Another writer created the conversation between our read and
		// insert. The retry finds the existing row and merges onto it.
		return s.upsertLeadOnce(ctx, up)
	}
	return lead, created, err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) upsertLeadOnce(ctx context.Context, up model.LeadUpsert) (*model.Lead, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	row := tx.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE agent_id = ? AND conversation_id = ?`,
		up.AgentID, up.ConversationID,
	)
	existing, err := scanLead(row)
	created := false

	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing = newLead(uuid.New().String(), up, now)
		created = true
		tagsJSON, extrasJSON, err := encodeLeadJSON(existing)
		if err != nil {
			return nil, false, err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO leads (`+leadColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			existing.ID, existing.AgentID, existing.ConversationID, existing.TenantID,
			existing.Name, existing.Company, existing.Role, existing.Email, existing.Phone,
			existing.Industry, existing.CompanySize, existing.Interest,
			string(existing.IntentLevel), existing.Score, existing.Qualified, existing.Status,
			existing.SourceChannel, tagsJSON, extrasJSON, now, now,
		)
		if err != nil {
			return nil, false, eris.Wrap(err, "sqlite: insert lead")
		}

	case err != nil:
		return nil, false, err

	default:
		mergeLead(existing, up, now)
		tagsJSON, extrasJSON, err := encodeLeadJSON(existing)
		if err != nil {
			return nil, false, err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE leads SET tenant_id = ?, name = ?, company = ?, role = ?, email = ?,
			 phone = ?, industry = ?, company_size = ?, interest = ?, intent_level = ?,
			 score = ?, qualified = ?, source_channel = ?, tags = ?, extras = ?, updated_at = ?
			 WHERE id = ?`,
			existing.TenantID, existing.Name, existing.Company, existing.Role, existing.Email,
			existing.Phone, existing.Industry, existing.CompanySize, existing.Interest,
			string(existing.IntentLevel), existing.Score, existing.Qualified,
			existing.SourceChannel, tagsJSON, extrasJSON, now, existing.ID,
		)
		if err != nil {
			return nil, false, eris.Wrapf(err, "sqlite: update lead %s", existing.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit upsert")
	}
	return existing, created, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lead, err
}

func (s *SQLiteStore) FindByConversation(ctx context.Context, key model.ConversationKey) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE agent_id = ? AND conversation_id = ?`,
		key.AgentID, key.ConversationID,
	)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lead, err
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	if filter.Qualified != nil {
		query += ` AND qualified = ?`
		args = append(args, *filter.Qualified)
	}
	if filter.MinScore > 0 {
		query += ` AND score >= ?`
		args = append(args, filter.MinScore)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.IntentLevel != "" {
		query += ` AND intent_level = ?`
		args = append(args, string(filter.IntentLevel))
	}
	query += ` ORDER BY score DESC, updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, id string, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev model.LeadEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	var payload any
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_events (id, lead_id, type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.LeadID, string(ev.Type), payload, ev.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append %s event", ev.Type)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, leadID string, limit int) ([]model.LeadEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, type, payload, created_at FROM lead_events
		 WHERE lead_id = ? ORDER BY created_at DESC LIMIT ?`,
		leadID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.LeadEvent
	for rows.Next() {
		var ev model.LeadEvent
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.LeadID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) AppendScoreSnapshot(ctx context.Context, snap model.ScoreSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	rationaleJSON, err := json.Marshal(snap.Rationale)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal rationale")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO score_snapshots (id, lead_id, score, rationale, created_at) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.LeadID, snap.Score, string(rationaleJSON), snap.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append score snapshot")
}

// RecordNotification inserts the notification row only while the tenant's
// count since the cutoff is under maxDaily. The guarded INSERT ... SELECT
// makes check and record a single statement, so two concurrent sends cannot
// both slip under the cap.
func (s *SQLiteStore) RecordNotification(ctx context.Context, leadID, tenantID string, since time.Time, maxDaily int) (bool, error) {
	if maxDaily <= 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO notifications (id, lead_id, tenant_id, sent_at) VALUES (?, ?, ?, ?)`,
			uuid.New().String(), leadID, tenantID, time.Now().UTC(),
		)
		return err == nil, eris.Wrap(err, "sqlite: record notification")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, lead_id, tenant_id, sent_at)
		 SELECT ?, ?, ?, ?
		 WHERE (SELECT COUNT(*) FROM notifications WHERE tenant_id = ? AND sent_at >= ?) < ?`,
		uuid.New().String(), leadID, tenantID, time.Now().UTC(),
		tenantID, since.UTC(), maxDaily,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: record notification")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) CountNotificationsSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE tenant_id = ? AND sent_at >= ?`,
		tenantID, since.UTC(),
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count notifications")
}

func (s *SQLiteStore) ListActiveRules(ctx context.Context, tenantID string) ([]model.AutomationRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, is_active, trigger_event, trigger_filter, action_type, action_config, created_at
		 FROM automation_rules
		 WHERE is_active = 1 AND (tenant_id = '' OR tenant_id = ?)
		 ORDER BY name`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rules")
	}
	defer rows.Close()

	var rules []model.AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: list rules iterate")
}

func (s *SQLiteStore) ReplaceRules(ctx context.Context, rules []model.AutomationRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace rules")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM automation_rules`); err != nil {
		return eris.Wrap(err, "sqlite: clear rules")
	}

	now := time.Now().UTC()
	for _, r := range rules {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		filterJSON, err := json.Marshal(r.Filter)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal filter for rule %s", r.Name)
		}
		configJSON, err := json.Marshal(r.ActionConfig)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal config for rule %s", r.Name)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO automation_rules
			 (id, tenant_id, name, is_active, trigger_event, trigger_filter, action_type, action_config, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.TenantID, r.Name, r.IsActive, string(r.TriggerEvent),
			string(filterJSON), string(r.ActionType), string(configJSON), createdAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert rule %s", r.Name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace rules")
}

func (s *SQLiteStore) AppendAutomationLog(ctx context.Context, entry model.AutomationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var payload any
	if len(entry.Payload) > 0 {
		payload = string(entry.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_logs (id, rule_id, lead_id, event_type, status, message, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RuleID, entry.LeadID, string(entry.EventType),
		string(entry.Status), entry.Message, payload, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append automation log")
}

// helpers

func encodeLeadJSON(l *model.Lead) (tags, extras any, err error) {
	if len(l.Tags) > 0 {
		b, err := json.Marshal(l.Tags)
		if err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: marshal tags")
		}
		tags = string(b)
	}
	if len(l.Extras) > 0 {
		b, err := json.Marshal(l.Extras)
		if err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: marshal extras")
		}
		extras = string(b)
	}
	return tags, extras, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var tagsJSON, extrasJSON sql.NullString

	err := row.Scan(
		&l.ID, &l.AgentID, &l.ConversationID, &l.TenantID,
		&l.Name, &l.Company, &l.Role, &l.Email, &l.Phone,
		&l.Industry, &l.CompanySize, &l.Interest,
		&l.IntentLevel, &l.Score, &l.Qualified, &l.Status,
		&l.SourceChannel, &tagsJSON, &extrasJSON, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &l.Tags); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal tags")
		}
	}
	if extrasJSON.Valid && extrasJSON.String != "" {
		if err := json.Unmarshal([]byte(extrasJSON.String), &l.Extras); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal extras")
		}
	}
	return &l, nil
}

func scanRule(row scannable) (*model.AutomationRule, error) {
	var r model.AutomationRule
	var filterJSON, configJSON sql.NullString

	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.IsActive, &r.TriggerEvent,
		&filterJSON, &r.ActionType, &configJSON, &r.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan rule")
	}

	if filterJSON.Valid && filterJSON.String != "" {
		if err := json.Unmarshal([]byte(filterJSON.String), &r.Filter); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal rule filter")
		}
	}
	if configJSON.Valid && configJSON.String != "" {
		if err := json.Unmarshal([]byte(configJSON.String), &r.ActionConfig); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal rule config")
		}
	}
	return &r, nil
}
