// Package webhook ingests provider event envelopes: it classifies each
// change, applies delivery receipts through the status reconciler, and
// feeds inbound messages to the flow and auto-reply engines.
package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/autoreply"
	"github.com/sabnode/messaging-engine/internal/flowengine"
	"github.com/sabnode/messaging-engine/internal/models"
	"github.com/sabnode/messaging-engine/internal/repository"
)

// inboundDedupTTL bounds how long a wamid is remembered for duplicate
// webhook deliveries.
const inboundDedupTTL = 24 * time.Hour

type Processor struct {
	projects      repository.ProjectRepository
	contacts      repository.ContactRepository
	messages      repository.MessageRepository
	notifications repository.NotificationRepository
	webhookLogs   repository.WebhookLogRepository
	reconciler    *StatusReconciler
	flows         *flowengine.Engine
	autoReply     *autoreply.Engine
	redis         *redis.Client
	logger        *zap.Logger
}

func NewProcessor(
	repo repository.Repository,
	reconciler *StatusReconciler,
	flows *flowengine.Engine,
	autoReply *autoreply.Engine,
	redisClient *redis.Client,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		projects:      repo.Projects(),
		contacts:      repo.Contacts(),
		messages:      repo.Messages(),
		notifications: repo.Notifications(),
		webhookLogs:   repo.WebhookLogs(),
		reconciler:    reconciler,
		flows:         flows,
		autoReply:     autoReply,
		redis:         redisClient,
		logger:        logger,
	}
}

// Ingest persists the raw payload so the provider can be acked immediately;
// the sweep processes it afterwards.
func (p *Processor) Ingest(ctx context.Context, payload []byte) (int64, error) {
	return p.webhookLogs.Create(ctx, payload)
}

// ProcessPending drains up to batchSize stored envelopes. A payload that
// fails to process is retired with its error recorded; webhook processing
// never wedges the sweep.
func (p *Processor) ProcessPending(ctx context.Context, batchSize int) (int, error) {
	logs, err := p.webhookLogs.GetUnprocessed(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending webhooks: %w", err)
	}

	for _, entry := range logs {
		var procErr *string
		if err := p.Process(ctx, entry.Payload); err != nil {
			msg := err.Error()
			procErr = &msg
			p.logger.Error("Webhook processing failed",
				zap.Int64("webhook_log_id", entry.ID), zap.Error(err))
		}
		if err := p.webhookLogs.MarkProcessed(ctx, entry.ID, procErr); err != nil {
			return 0, fmt.Errorf("mark webhook processed: %w", err)
		}
	}

	return len(logs), nil
}

// Process handles one raw envelope. Malformed payloads are logged and
// dropped; unknown change fields are tolerated.
func (p *Processor) Process(ctx context.Context, payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		p.logger.Warn("Dropping malformed webhook payload", zap.Error(err))
		return nil
	}

	for _, entry := range env.Entry {
		project, err := p.projects.GetByWabaID(ctx, entry.ID)
		if errors.Is(err, repository.ErrNotFound) {
			p.logger.Warn("Webhook for unknown WABA", zap.String("waba_id", entry.ID))
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve project: %w", err)
		}

		for _, change := range entry.Changes {
			if err := p.dispatch(ctx, project, change); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Processor) dispatch(ctx context.Context, project *models.Project, change Change) error {
	switch change.Field {
	case "messages":
		return p.handleMessages(ctx, project, change.Value)
	case "account_update":
		return p.handleAccountUpdate(ctx, project, change.Value)
	case "phone_number_quality_update":
		return p.handlePhoneQuality(ctx, project, change.Value)
	case "phone_number_name_update":
		return p.handlePhoneName(ctx, project, change.Value)
	case "message_template_status_update", "template_status_update":
		return p.notify(ctx, project, "template_status",
			fmt.Sprintf("Template %q is now %s", change.Value.MessageTemplateName, change.Value.Event))
	case "message_template_quality_update":
		return p.notify(ctx, project, "template_quality",
			fmt.Sprintf("Template %q quality changed from %s to %s",
				change.Value.MessageTemplateName, change.Value.PreviousQualityScore, change.Value.NewQualityScore))
	case "calls":
		p.logger.Info("Dropping call event, voice calling is handled outside this engine",
			zap.Int64("project_id", project.ID))
		return nil
	case "feed":
		p.logger.Info("Dropping page comment event, social channels are handled outside this engine",
			zap.Int64("project_id", project.ID))
		return nil
	case "catalog_product_events":
		p.logger.Info("Dropping commerce catalog event, catalog sync is handled outside this engine",
			zap.Int64("project_id", project.ID))
		return nil
	default:
		p.logger.Debug("Ignoring webhook change field",
			zap.String("field", change.Field), zap.Int64("project_id", project.ID))
		return nil
	}
}

func (p *Processor) handleMessages(ctx context.Context, project *models.Project, value ChangeValue) error {
	if len(value.Statuses) > 0 {
		records := make([]StatusRecord, 0, len(value.Statuses))
		for _, su := range value.Statuses {
			status := normalizeStatus(su.Status)
			if status == "" {
				p.logger.Debug("Ignoring unknown delivery status", zap.String("status", su.Status))
				continue
			}
			rec := StatusRecord{
				WAMID:     su.ID,
				Status:    status,
				Timestamp: parseUnixSeconds(su.Timestamp),
			}
			if len(su.Errors) > 0 {
				e := su.Errors[0]
				rec.ErrorText = fmt.Sprintf("%d: %s", e.Code, e.Title)
				if e.ErrorData != nil && e.ErrorData.Details != "" {
					rec.ErrorText = fmt.Sprintf("%s (%s)", rec.ErrorText, e.ErrorData.Details)
				}
			}
			records = append(records, rec)
		}
		if err := p.reconciler.Reconcile(ctx, records); err != nil {
			return fmt.Errorf("reconcile statuses: %w", err)
		}
	}

	phoneNumberID := ""
	if value.Metadata != nil {
		phoneNumberID = value.Metadata.PhoneNumberID
	}
	for i := range value.Messages {
		if err := p.handleInbound(ctx, project, phoneNumberID, value, &value.Messages[i]); err != nil {
			return err
		}
	}

	return nil
}

func (p *Processor) handleInbound(ctx context.Context, project *models.Project, phoneNumberID string, value ChangeValue, msg *InboundMessage) error {
	if p.isDuplicate(ctx, msg.ID) {
		p.logger.Debug("Skipping duplicate inbound message", zap.String("wamid", msg.ID))
		return nil
	}

	name := ""
	for _, c := range value.Contacts {
		if c.WaID == msg.From {
			name = c.Profile.Name
			break
		}
	}

	text := msg.DisplayText()
	ts := parseUnixSeconds(msg.Timestamp)

	contact, err := p.contacts.Upsert(ctx, &models.Contact{
		ProjectID:            project.ID,
		WaID:                 msg.From,
		PhoneNumberID:        phoneNumberID,
		Name:                 name,
		LastMessage:          sql.NullString{String: text, Valid: text != ""},
		LastMessageTimestamp: sql.NullTime{Time: ts, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}

	content := models.JSONMap{"text": text}
	if raw, err := json.Marshal(msg); err == nil {
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil {
			content = m
		}
	}
	if _, err := p.messages.Create(ctx, &models.Message{
		ProjectID:        project.ID,
		ContactID:        contact.ID,
		Direction:        "in",
		Wamid:            msg.ID,
		Type:             msg.Type,
		Content:          content,
		Status:           models.StatusDelivered,
		MessageTimestamp: ts,
	}); err != nil {
		return fmt.Errorf("store inbound message: %w", err)
	}

	sender := name
	if sender == "" {
		sender = msg.From
	}
	if err := p.notify(ctx, project, "messages",
		fmt.Sprintf("New message from %s for project %q", sender, project.Name)); err != nil {
		return err
	}

	buttonID, buttonTitle := msg.ButtonReply()
	in := flowengine.Inbound{
		Text:        text,
		ButtonID:    buttonID,
		ButtonTitle: buttonTitle,
		WAMID:       msg.ID,
	}

	// Flows never run for an opted-out contact; the auto-reply chain still
	// does so an opt-in keyword can restore them.
	if !contact.IsOptedOut {
		consumed, err := p.flows.HandleInbound(ctx, project, contact, in)
		if err != nil {
			return fmt.Errorf("flow engine: %w", err)
		}
		if consumed {
			return nil
		}
	}

	if _, err := p.autoReply.Handle(ctx, project, contact, text); err != nil {
		return fmt.Errorf("auto-reply: %w", err)
	}
	return nil
}

// isDuplicate remembers inbound wamids in Redis. Without Redis every
// delivery is treated as fresh; the message store still absorbs the row.
func (p *Processor) isDuplicate(ctx context.Context, wamid string) bool {
	if p.redis == nil || wamid == "" {
		return false
	}
	fresh, err := p.redis.SetNX(ctx, "webhook:wamid:"+wamid, 1, inboundDedupTTL).Result()
	if err != nil {
		p.logger.Warn("Inbound dedup check failed", zap.Error(err))
		return false
	}
	return !fresh
}

func (p *Processor) handleAccountUpdate(ctx context.Context, project *models.Project, value ChangeValue) error {
	if value.BanInfo != nil {
		if err := p.projects.UpdateBanState(ctx, project.WabaID, value.BanInfo.WabaBanState); err != nil {
			return fmt.Errorf("update ban state: %w", err)
		}
		return p.notify(ctx, project, "account_ban",
			fmt.Sprintf("Account ban state changed to %s", value.BanInfo.WabaBanState))
	}

	if value.ReviewStatus != "" {
		if err := p.projects.UpdateReviewStatus(ctx, project.WabaID, value.ReviewStatus); err != nil {
			return fmt.Errorf("update review status: %w", err)
		}
		return p.notify(ctx, project, "account_review",
			fmt.Sprintf("Account review status: %s", value.ReviewStatus))
	}

	if value.Event != "" {
		return p.notify(ctx, project, "account_update",
			fmt.Sprintf("Account event: %s", value.Event))
	}
	return nil
}

func (p *Processor) handlePhoneQuality(ctx context.Context, project *models.Project, value ChangeValue) error {
	phoneID := p.resolvePhoneID(project, value.DisplayPhoneNumber)

	if value.Event != "" {
		if err := p.projects.UpdatePhoneQuality(ctx, project.WabaID, phoneID, value.Event); err != nil {
			return fmt.Errorf("update phone quality: %w", err)
		}
	}
	if value.CurrentLimit != "" {
		if err := p.projects.UpdateMessagingLimit(ctx, project.WabaID, phoneID, value.CurrentLimit); err != nil {
			return fmt.Errorf("update messaging limit: %w", err)
		}
	}

	return p.notify(ctx, project, "phone_quality",
		fmt.Sprintf("Phone %s quality update: %s (limit %s)",
			value.DisplayPhoneNumber, value.Event, value.CurrentLimit))
}

func (p *Processor) handlePhoneName(ctx context.Context, project *models.Project, value ChangeValue) error {
	if value.Decision == "APPROVED" && value.RequestedVerifiedName != "" {
		phoneID := p.resolvePhoneID(project, value.DisplayPhoneNumber)
		if err := p.projects.UpdatePhoneVerifiedName(ctx, project.WabaID, phoneID, value.RequestedVerifiedName); err != nil {
			return fmt.Errorf("update verified name: %w", err)
		}
	}

	return p.notify(ctx, project, "phone_name",
		fmt.Sprintf("Display name request for %s: %s", value.DisplayPhoneNumber, value.Decision))
}

// resolvePhoneID maps a display phone number back to the provider phone
// number id; account webhooks carry only the former.
func (p *Processor) resolvePhoneID(project *models.Project, displayNumber string) string {
	for _, pn := range project.PhoneNumbers {
		if pn.DisplayPhoneNumber == displayNumber {
			return pn.ID
		}
	}
	return displayNumber
}

func (p *Processor) notify(ctx context.Context, project *models.Project, eventType, message string) error {
	err := p.notifications.Create(ctx, &models.Notification{
		ProjectID: project.ID,
		WabaID:    project.WabaID,
		Message:   message,
		EventType: eventType,
	})
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func parseUnixSeconds(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
