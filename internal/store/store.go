// Package store persists leads, their append-only event and score history,
// notification accounting, and automation rules. Two implementations are
// provided: SQLite for single-process deployments and Postgres for shared
// ones. Both enforce the (agent_id, conversation_id) uniqueness that makes
// lead detection idempotent per conversation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsense/internal/model"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = eris.New("store: not found")

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store defines the persistence interface for the detection pipeline.
type Store interface {
	// Leads
	UpsertLead(ctx context.Context, up model.LeadUpsert) (*model.Lead, bool, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	FindByConversation(ctx context.Context, key model.ConversationKey) (*model.Lead, error)
	ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, status string) error

	// Audit trail
	AppendEvent(ctx context.Context, ev model.LeadEvent) error
	ListEvents(ctx context.Context, leadID string, limit int) ([]model.LeadEvent, error)
	AppendScoreSnapshot(ctx context.Context, snap model.ScoreSnapshot) error

	// Notification accounting. RecordNotification atomically checks the
	// tenant's count since the given instant against maxDaily and records
	// the send only when under the cap, reporting whether the slot was
	// claimed. A maxDaily of zero or less means no cap.
	RecordNotification(ctx context.Context, leadID, tenantID string, since time.Time, maxDaily int) (bool, error)
	CountNotificationsSince(ctx context.Context, tenantID string, since time.Time) (int, error)

	// Automation
	ListActiveRules(ctx context.Context, tenantID string) ([]model.AutomationRule, error)
	ReplaceRules(ctx context.Context, rules []model.AutomationRule) error
	AppendAutomationLog(ctx context.Context, entry model.AutomationLog) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// mergeLead applies an upsert onto an existing lead in place. Intent and
// score always take the new value; identity and contact fields only move
// from empty to non-empty, so a later low-signal turn cannot erase facts
// extracted earlier. Extras merge key-wise with new values winning.
func mergeLead(lead *model.Lead, up model.LeadUpsert, now time.Time) {
	keepNonEmpty := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	keepNonEmpty(&lead.Name, up.Name)
	keepNonEmpty(&lead.Company, up.Company)
	keepNonEmpty(&lead.Role, up.Role)
	keepNonEmpty(&lead.Email, up.Email)
	keepNonEmpty(&lead.Phone, up.Phone)
	keepNonEmpty(&lead.Industry, up.Industry)
	keepNonEmpty(&lead.CompanySize, up.CompanySize)
	keepNonEmpty(&lead.Interest, up.Interest)
	keepNonEmpty(&lead.TenantID, up.TenantID)
	keepNonEmpty(&lead.SourceChannel, up.SourceChannel)

	lead.IntentLevel = up.IntentLevel
	lead.Score = up.Score
	// Qualification is sticky: once a conversation qualifies, a later
	// lower-scoring pass does not revoke it.
	lead.Qualified = lead.Qualified || up.Qualified

	if len(up.Extras) > 0 {
		if lead.Extras == nil {
			lead.Extras = make(map[string]any, len(up.Extras))
		}
		for k, v := range up.Extras {
			lead.Extras[k] = v
		}
	}
	lead.UpdatedAt = now
}

// newLead builds a fresh lead from an upsert.
func newLead(id string, up model.LeadUpsert, now time.Time) *model.Lead {
	return &model.Lead{
		ID:             id,
		ConversationID: up.ConversationID,
		AgentID:        up.AgentID,
		TenantID:       up.TenantID,
		Name:           up.Name,
		Company:        up.Company,
		Role:           up.Role,
		Email:          up.Email,
		Phone:          up.Phone,
		Industry:       up.Industry,
		CompanySize:    up.CompanySize,
		Interest:       up.Interest,
		IntentLevel:    up.IntentLevel,
		Score:          up.Score,
		Qualified:      up.Qualified,
		Status:         model.StatusNew,
		SourceChannel:  up.SourceChannel,
		Extras:         up.Extras,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
