// ABOUTME: TEMPLATE_SYNC handler: mirrors the provider template catalog for a
// ABOUTME: WhatsApp Business account into the local templates table.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/al-azab/souq-chat/internal/store"
	"github.com/al-azab/souq-chat/internal/wa"
)

// templateCatalogLimit bounds one catalog fetch. Catalogs above this size are
// truncated per sync; the next sync picks up where provider ordering left off.
const templateCatalogLimit = 250

// TemplateSyncer mirrors the provider message-template catalog.
type TemplateSyncer struct {
	st  *store.Store
	wa  *wa.Client
	log *slog.Logger
}

// NewTemplateSyncer creates the handler.
func NewTemplateSyncer(st *store.Store, waClient *wa.Client) *TemplateSyncer {
	return &TemplateSyncer{st: st, wa: waClient, log: slog.Default()}
}

// templateSyncPayload is the TEMPLATE_SYNC job payload.
type templateSyncPayload struct {
	WAAccountID uuid.UUID `json:"wa_account_id"`
}

// Handle syncs one account's catalog. A missing account is retryable: account
// provisioning may still be in flight when the first sync job fires.
func (h *TemplateSyncer) Handle(ctx context.Context, job *store.Job) error {
	var p templateSyncPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode template sync payload: %w", err)
	}
	_, err := h.Sync(ctx, job.TenantID, p.WAAccountID)
	return err
}

// Sync mirrors the catalog for one account and returns the number of synced
// templates. Shared by the queue handler and the synchronous API endpoint.
func (h *TemplateSyncer) Sync(ctx context.Context, tenantID, waAccountID uuid.UUID) (int, error) {
	account, err := h.st.GetWAAccount(ctx, waAccountID, tenantID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, fmt.Errorf("wa account %s not found", waAccountID)
	}

	catalog, err := h.wa.ListTemplates(ctx, account.WABAID, templateCatalogLimit)
	if err != nil {
		return 0, err
	}

	for _, t := range catalog {
		params, err := templateUpsertParams(tenantID, account.ID, t)
		if err != nil {
			h.log.Warn("skipping malformed catalog template",
				"template", t.Name, "error", err)
			continue
		}
		if err := h.st.UpsertTemplate(ctx, params); err != nil {
			return 0, err
		}
	}

	h.log.Info("template catalog synced",
		"wa_account_id", account.ID, "templates", len(catalog))
	return len(catalog), nil
}

// templateUpsertParams flattens a provider catalog entry into a local row:
// body text comes from the BODY component, variable examples ride along in
// variables, the full component list is preserved in meta.
func templateUpsertParams(tenantID, accountID uuid.UUID, t wa.Template) (store.UpsertTemplateParams, error) {
	var body string
	variables := json.RawMessage(`[]`)
	for _, c := range t.Components {
		if c.Type == "BODY" {
			body = c.Text
			if len(c.Example) > 0 {
				variables = c.Example
			}
			break
		}
	}

	meta, err := json.Marshal(map[string]any{
		"provider_id": t.ID,
		"components":  t.Components,
	})
	if err != nil {
		return store.UpsertTemplateParams{}, fmt.Errorf("marshal template meta: %w", err)
	}

	return store.UpsertTemplateParams{
		TenantID:    tenantID,
		WAAccountID: accountID,
		Name:        t.Name,
		Language:    t.Language,
		Category:    mapTemplateCategory(t.Category),
		Status:      t.Status,
		Body:        body,
		Variables:   variables,
		Meta:        meta,
	}, nil
}

// mapTemplateCategory normalizes the provider category vocabulary to the local
// one. Unrecognized categories collapse to UTILITY.
func mapTemplateCategory(category string) string {
	switch category {
	case "UTILITY", "MARKETING":
		return category
	case "AUTHENTICATION":
		return "AUTH"
	}
	return "UTILITY"
}
