// ABOUTME: Store methods for contacts, conversations, messages, and notes.
// ABOUTME: Used by the inbound receiver (producer) and the workflow/send handlers.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one row of the messages table.
type Message struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	ConversationID    uuid.UUID
	Direction         string
	Status            string
	Text              *string
	ProviderMessageID *string
	Meta              json.RawMessage
	CreatedAt         time.Time
}

// WANumber identifies a WhatsApp business phone number.
type WANumber struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	WAAccountID *uuid.UUID
}

// GetWANumberByPhoneNumberID resolves a provider phone_number_id to the local
// wa_numbers row, or nil when the number is not registered with any tenant.
func (s *Store) GetWANumberByPhoneNumberID(ctx context.Context, phoneNumberID string) (*WANumber, error) {
	var n WANumber
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, wa_account_id FROM wa_numbers WHERE phone_number_id = $1`,
		phoneNumberID,
	).Scan(&n.ID, &n.TenantID, &n.WAAccountID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wa number: %w", err)
	}
	return &n, nil
}

// UpsertContact creates or refreshes a contact keyed by (tenant_id, phone_e164)
// and returns its id.
func (s *Store) UpsertContact(ctx context.Context, tenantID uuid.UUID, phoneE164, displayName, waID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (tenant_id, phone_e164, display_name, wa_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, phone_e164)
		DO UPDATE SET display_name = EXCLUDED.display_name, wa_id = EXCLUDED.wa_id
		RETURNING id`,
		tenantID, phoneE164, displayName, waID,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert contact: %w", err)
	}
	return id, nil
}

// FindOrCreateOpenConversation returns the open conversation for the given
// number/contact pair, creating one if none exists.
func (s *Store) FindOrCreateOpenConversation(ctx context.Context, tenantID, waNumberID, contactID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM conversations
		WHERE tenant_id = $1 AND wa_number_id = $2 AND contact_id = $3 AND status = 'open'
		LIMIT 1`,
		tenantID, waNumberID, contactID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !isNoRows(err) {
		return uuid.Nil, fmt.Errorf("find open conversation: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO conversations (tenant_id, wa_number_id, contact_id, status)
		VALUES ($1, $2, $3, 'open')
		RETURNING id`,
		tenantID, waNumberID, contactID,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// InsertMessageParams holds the fields of a new message row.
type InsertMessageParams struct {
	TenantID          uuid.UUID
	ConversationID    uuid.UUID
	Direction         string
	Status            string
	Text              *string
	ProviderMessageID *string
	Meta              json.RawMessage
}

// InsertMessage inserts a message row and returns its id.
func (s *Store) InsertMessage(ctx context.Context, p InsertMessageParams) (uuid.UUID, error) {
	meta := p.Meta
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (tenant_id, conversation_id, direction, status, text, provider_message_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		p.TenantID, p.ConversationID, p.Direction, p.Status, p.Text, p.ProviderMessageID, meta,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// GetMessage returns the message with the given id, or nil if not found.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	var m Message
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, conversation_id, direction, status, text, provider_message_id, meta, created_at
		FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.Direction, &m.Status,
		&m.Text, &m.ProviderMessageID, &m.Meta, &m.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// UpdateMessageStatusByProviderID applies a provider status callback
// (sent/delivered/read/failed) to the matching outbound message. Returns the
// updated message, or nil when no message carries that provider id.
func (s *Store) UpdateMessageStatusByProviderID(ctx context.Context, providerMessageID, status string) (*Message, error) {
	var m Message
	err := s.pool.QueryRow(ctx, `
		UPDATE messages SET status = $2 WHERE provider_message_id = $1
		RETURNING id, tenant_id, conversation_id, direction, status, text,
		          provider_message_id, meta, created_at`,
		providerMessageID, status,
	).Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.Direction, &m.Status,
		&m.Text, &m.ProviderMessageID, &m.Meta, &m.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("update message status: %w", err)
	}
	return &m, nil
}

// AssignConversation sets the assignee of a conversation.
func (s *Store) AssignConversation(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET assigned_to = $2, updated_at = now() WHERE id = $1`,
		conversationID, userID)
	if err != nil {
		return fmt.Errorf("assign conversation: %w", err)
	}
	return nil
}

// InsertConversationNote appends an operator note to a conversation.
func (s *Store) InsertConversationNote(ctx context.Context, tenantID, conversationID, userID uuid.UUID, note string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_notes (tenant_id, conversation_id, user_id, note)
		VALUES ($1, $2, $3, $4)`,
		tenantID, conversationID, userID, note)
	if err != nil {
		return fmt.Errorf("insert conversation note: %w", err)
	}
	return nil
}

// ConversationSendInfo is the outbound-send view of a conversation: the
// counterpart phone number and the originating provider number id.
type ConversationSendInfo struct {
	ConversationID uuid.UUID
	PhoneE164      string
	PhoneNumberID  string
}

// GetConversationSendInfo resolves the contact phone and wa_number
// phone_number_id for a conversation, or nil when the conversation does not
// exist within the tenant.
func (s *Store) GetConversationSendInfo(ctx context.Context, tenantID, conversationID uuid.UUID) (*ConversationSendInfo, error) {
	var info ConversationSendInfo
	err := s.pool.QueryRow(ctx, `
		SELECT c.id, ct.phone_e164, n.phone_number_id
		FROM conversations c
		JOIN contacts ct ON ct.id = c.contact_id
		JOIN wa_numbers n ON n.id = c.wa_number_id
		WHERE c.id = $1 AND c.tenant_id = $2`,
		conversationID, tenantID,
	).Scan(&info.ConversationID, &info.PhoneE164, &info.PhoneNumberID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation send info: %w", err)
	}
	return &info, nil
}
