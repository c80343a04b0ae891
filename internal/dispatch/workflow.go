// ABOUTME: WORKFLOW_RUN handler: evaluates tenant automation rules against a
// ABOUTME: message and executes the matching actions.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/al-azab/souq-chat/internal/store"
)

// WorkflowRunner evaluates enabled workflows against messages. Two triggers
// exist: "message.inbound" fires for inbound messages, "message.failed" for
// messages whose delivery failed.
//
// Action failures are isolated: one failing action is recorded in the run log
// and the remaining actions still execute. Only failures to load the message
// or the workflow list make the job retryable.
type WorkflowRunner struct {
	st  *store.Store
	log *slog.Logger
}

// NewWorkflowRunner creates the handler.
func NewWorkflowRunner(st *store.Store) *WorkflowRunner {
	return &WorkflowRunner{st: st, log: slog.Default()}
}

// workflowPayload is the WORKFLOW_RUN job payload.
type workflowPayload struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
}

// workflowRules is the rules document stored on a workflow row.
type workflowRules struct {
	Trigger    string              `json:"trigger"`
	Conditions []workflowCondition `json:"conditions"`
	Actions    []workflowAction    `json:"actions"`
}

type workflowCondition struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type workflowAction struct {
	Type         string `json:"type"`
	UserID       string `json:"user_id,omitempty"`
	Note         string `json:"note,omitempty"`
	Text         string `json:"text,omitempty"`
	TemplateName string `json:"template_name,omitempty"`
	Language     string `json:"language,omitempty"`
}

// actionOutcome is one entry of the per-run action log.
type actionOutcome struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Handle evaluates every enabled workflow of the tenant against the message.
// A vanished message completes the job: there is nothing left to automate.
func (h *WorkflowRunner) Handle(ctx context.Context, job *store.Job) error {
	var p workflowPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode workflow payload: %w", err)
	}

	msg, err := h.st.GetMessage(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if msg == nil || msg.TenantID != job.TenantID {
		h.log.Info("workflow target message gone, skipping", "job_id", job.ID, "message_id", p.MessageID)
		return nil
	}

	workflows, err := h.st.ListEnabledWorkflows(ctx, job.TenantID)
	if err != nil {
		return err
	}

	for _, wf := range workflows {
		var rules workflowRules
		if err := json.Unmarshal(wf.Rules, &rules); err != nil {
			h.log.Warn("workflow has malformed rules, skipping",
				"workflow_id", wf.ID, "error", err)
			continue
		}
		if !triggerFires(rules.Trigger, msg) {
			continue
		}
		if !conditionsMatch(rules.Conditions, msg) {
			continue
		}

		outcomes := h.runActions(ctx, job, msg, rules.Actions)

		status := "completed"
		for _, o := range outcomes {
			if o.Status == "error" {
				status = "partial"
				break
			}
		}
		logDoc, err := json.Marshal(outcomes)
		if err != nil {
			logDoc = json.RawMessage(`[]`)
		}
		if err := h.st.InsertWorkflowRun(ctx, job.TenantID, wf.ID, rules.Trigger, status, logDoc); err != nil {
			h.log.Error("record workflow run", "workflow_id", wf.ID, "error", err)
		}
	}
	return nil
}

// triggerFires reports whether the workflow trigger applies to the message.
// Unknown trigger tags never fire.
func triggerFires(trigger string, msg *store.Message) bool {
	switch trigger {
	case "message.inbound":
		return msg.Direction == "inbound"
	case "message.failed":
		return msg.Status == "failed"
	}
	return false
}

// conditionsMatch reports whether every condition holds for the message.
// Unknown condition types never match, so a typo disables the workflow rather
// than firing it for everything.
func conditionsMatch(conds []workflowCondition, msg *store.Message) bool {
	for _, c := range conds {
		switch c.Type {
		case "contains":
			var needle string
			if err := json.Unmarshal(c.Value, &needle); err != nil || needle == "" {
				return false
			}
			if msg.Text == nil || !strings.Contains(*msg.Text, needle) {
				return false
			}
		case "has_media":
			// Only a true value constrains; {"has_media": false} always passes.
			var want bool
			if err := json.Unmarshal(c.Value, &want); err != nil {
				return false
			}
			if want && !messageHasMedia(msg) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// messageHasMedia checks the message meta document for an attached media ref.
func messageHasMedia(msg *store.Message) bool {
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(msg.Meta, &meta); err != nil {
		return false
	}
	_, ok := meta["media"]
	return ok
}

// runActions executes each action in order, collecting per-action outcomes.
func (h *WorkflowRunner) runActions(ctx context.Context, job *store.Job, msg *store.Message, actions []workflowAction) []actionOutcome {
	outcomes := make([]actionOutcome, 0, len(actions))
	for _, a := range actions {
		out := actionOutcome{Action: a.Type, Status: "ok"}
		if err := h.runAction(ctx, job, msg, a); err != nil {
			out.Status = "error"
			out.Error = err.Error()
			h.log.Warn("workflow action failed",
				"job_id", job.ID, "action", a.Type, "error", err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (h *WorkflowRunner) runAction(ctx context.Context, job *store.Job, msg *store.Message, a workflowAction) error {
	switch a.Type {
	case "assign_to":
		userID, err := uuid.Parse(a.UserID)
		if err != nil {
			return fmt.Errorf("assign_to: bad user_id: %w", err)
		}
		return h.st.AssignConversation(ctx, msg.ConversationID, userID)

	case "add_note":
		if a.Note == "" {
			return fmt.Errorf("add_note: empty note")
		}
		userID := uuid.Nil
		if a.UserID != "" {
			id, err := uuid.Parse(a.UserID)
			if err != nil {
				return fmt.Errorf("add_note: bad user_id: %w", err)
			}
			userID = id
		}
		return h.st.InsertConversationNote(ctx, job.TenantID, msg.ConversationID, userID, a.Note)

	case "auto_reply_text":
		if a.Text == "" {
			return fmt.Errorf("auto_reply_text: empty text")
		}
		payload, err := json.Marshal(map[string]any{
			"conversation_id": msg.ConversationID,
			"text":            a.Text,
		})
		if err != nil {
			return err
		}
		_, err = h.st.EnqueueJob(ctx, store.EnqueueJobParams{
			TenantID: job.TenantID,
			JobType:  store.JobSendMessage,
			Payload:  payload,
		})
		return err

	case "auto_reply_template":
		if a.TemplateName == "" {
			return fmt.Errorf("auto_reply_template: empty template_name")
		}
		lang := a.Language
		if lang == "" {
			lang = "ar"
		}
		payload, err := json.Marshal(map[string]any{
			"conversation_id": msg.ConversationID,
			"template": map[string]any{
				"name":     a.TemplateName,
				"language": map[string]string{"code": lang},
			},
		})
		if err != nil {
			return err
		}
		_, err = h.st.EnqueueJob(ctx, store.EnqueueJobParams{
			TenantID: job.TenantID,
			JobType:  store.JobSendMessage,
			Payload:  payload,
		})
		return err

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}
