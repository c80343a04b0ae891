// ABOUTME: Seed helpers that build the tenant/account/number/conversation
// ABOUTME: scaffolding most integration tests need.
package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/al-azab/souq-chat/internal/store"
)

// Tenant holds the ids of a seeded tenant graph.
type Tenant struct {
	ID             uuid.UUID
	WAAccountID    uuid.UUID
	WANumberID     uuid.UUID
	ContactID      uuid.UUID
	ConversationID uuid.UUID
}

// SeedTenant creates a tenant with one WABA, one phone number, one contact,
// and one open conversation.
func SeedTenant(t *testing.T, st *store.Store) *Tenant {
	t.Helper()
	ctx := context.Background()

	tenantID, err := st.CreateTenant(ctx, "Test Souq")
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	accountID, err := st.CreateWAAccount(ctx, tenantID, "waba_123", "Test WABA")
	if err != nil {
		t.Fatalf("create wa account: %v", err)
	}
	numberID, err := st.CreateWANumber(ctx, tenantID, &accountID, "pn_123", "+20100000000")
	if err != nil {
		t.Fatalf("create wa number: %v", err)
	}
	contactID, err := st.UpsertContact(ctx, tenantID, "+201234567890", "Test Contact", "201234567890")
	if err != nil {
		t.Fatalf("upsert contact: %v", err)
	}
	convID, err := st.FindOrCreateOpenConversation(ctx, tenantID, numberID, contactID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	return &Tenant{
		ID:             tenantID,
		WAAccountID:    accountID,
		WANumberID:     numberID,
		ContactID:      contactID,
		ConversationID: convID,
	}
}
