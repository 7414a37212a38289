// Package autoreply evaluates a project's reply rules for inbound messages
// that no flow claimed. Rules are checked in a fixed priority order and at
// most one reply is sent per event.
package autoreply

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/interp"
	"github.com/sabnode/messaging-engine/internal/models"
	"github.com/sabnode/messaging-engine/internal/wa"
)

type contactFlagStore interface {
	SetOptedOut(ctx context.Context, contactID int64, optedOut bool) error
	MarkWelcomed(ctx context.Context, contactID int64) error
}

type outboundStore interface {
	Create(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// Responder generates a free-text reply from the project's configured AI
// context. The default engine has none and skips the rule.
type Responder interface {
	Reply(ctx context.Context, aiContext, inboundText string) (string, error)
}

type Engine struct {
	sender    wa.Sender
	contacts  contactFlagStore
	messages  outboundStore
	responder Responder
	now       func() time.Time
	logger    *zap.Logger
}

func NewEngine(sender wa.Sender, contacts contactFlagStore, logger *zap.Logger) *Engine {
	return &Engine{
		sender:   sender,
		contacts: contacts,
		now:      time.Now,
		logger:   logger,
	}
}

// SetResponder wires an optional AI reply collaborator.
func (e *Engine) SetResponder(r Responder) { e.responder = r }

// SetMessageStore wires the store that keeps a row per outbound reply, so
// later delivery receipts have something to land on.
func (e *Engine) SetMessageStore(s outboundStore) { e.messages = s }

// Handle runs the rule chain for one unclaimed inbound message. Priority:
// opt-out/opt-in keywords, first-contact welcome, inactive hours, AI reply,
// general keyword rules. Returns true if a reply was sent or a flag
// toggled.
func (e *Engine) Handle(ctx context.Context, project *models.Project, contact *models.Contact, text string) (bool, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, nil
	}
	creds := project.Credentials(contact.PhoneNumberID)

	if handled, err := e.handleOptInOut(ctx, project, contact, creds, trimmed); handled || err != nil {
		return handled, err
	}

	// An opted-out contact gets no automated replies of any kind.
	if contact.IsOptedOut {
		return false, nil
	}

	cfg := project.AutoReplySettings
	if cfg == nil || !cfg.MasterEnabled {
		return false, nil
	}

	if cfg.WelcomeMessage != nil && cfg.WelcomeMessage.Enabled && !contact.HasReceivedWelcome {
		if err := e.sendReply(ctx, creds, contact, cfg.WelcomeMessage.Message); err != nil {
			return false, err
		}
		if err := e.contacts.MarkWelcomed(ctx, contact.ID); err != nil {
			e.logger.Error("Failed to mark contact welcomed",
				zap.Int64("contact_id", contact.ID), zap.Error(err))
		}
		contact.HasReceivedWelcome = true
		return true, nil
	}

	if cfg.InactiveHours != nil && cfg.InactiveHours.Enabled &&
		e.withinInactiveHours(cfg.InactiveHours) {
		if err := e.sendReply(ctx, creds, contact, cfg.InactiveHours.Message); err != nil {
			return false, err
		}
		return true, nil
	}

	if cfg.AIAssistant != nil && cfg.AIAssistant.Enabled && e.responder != nil {
		reply, err := e.responder.Reply(ctx, cfg.AIAssistant.Context, trimmed)
		if err != nil {
			e.logger.Warn("AI responder failed, falling through to general rules",
				zap.Int64("contact_id", contact.ID), zap.Error(err))
		} else if reply != "" {
			if err := e.sendReply(ctx, creds, contact, reply); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	if cfg.General != nil && cfg.General.Enabled {
		if rule := matchGeneralRule(cfg.General.Replies, trimmed); rule != nil {
			if err := e.sendReply(ctx, creds, contact, rule.Reply); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	return false, nil
}

func (e *Engine) handleOptInOut(ctx context.Context, project *models.Project, contact *models.Contact, creds models.Credentials, text string) (bool, error) {
	cfg := project.OptInOutSettings
	if cfg == nil || !cfg.Enabled {
		return false, nil
	}

	if matchExactKeyword(cfg.OptOutKeywords, text) {
		if err := e.contacts.SetOptedOut(ctx, contact.ID, true); err != nil {
			return false, err
		}
		contact.IsOptedOut = true
		if cfg.OptOutResponse != "" {
			if err := e.sendReply(ctx, creds, contact, cfg.OptOutResponse); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	if matchExactKeyword(cfg.OptInKeywords, text) {
		if err := e.contacts.SetOptedOut(ctx, contact.ID, false); err != nil {
			return false, err
		}
		contact.IsOptedOut = false
		if cfg.OptInResponse != "" {
			if err := e.sendReply(ctx, creds, contact, cfg.OptInResponse); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	return false, nil
}

func (e *Engine) sendReply(ctx context.Context, creds models.Credentials, contact *models.Contact, message string) error {
	rendered, _ := interp.Interpolate(message, map[string]any{
		"name":  contact.Name,
		"wa_id": contact.WaID,
	})
	wamid, err := e.sender.SendText(ctx, creds, contact.WaID, rendered)
	if err != nil {
		return err
	}
	if e.messages != nil && wamid != "" {
		if _, err := e.messages.Create(ctx, &models.Message{
			ProjectID:        contact.ProjectID,
			ContactID:        contact.ID,
			Direction:        models.DirectionOut,
			Wamid:            wamid,
			Type:             "text",
			Content:          models.JSONMap{"text": rendered},
			Status:           models.StatusPending,
			MessageTimestamp: time.Now(),
		}); err != nil {
			e.logger.Error("Failed to record outbound reply",
				zap.String("wamid", wamid), zap.Error(err))
		}
	}
	return nil
}

// withinInactiveHours reports whether the current local time falls in the
// configured out-of-office window. Windows may cross midnight, in which
// case the day check applies to the day the window started.
func (e *Engine) withinInactiveHours(cfg *models.InactiveHoursConfig) bool {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		e.logger.Warn("Invalid inactive-hours timezone", zap.String("timezone", cfg.Timezone))
		loc = time.UTC
	}
	now := e.now().In(loc)

	start, ok1 := parseClock(cfg.StartTime)
	end, ok2 := parseClock(cfg.EndTime)
	if !ok1 || !ok2 {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	weekday := int(now.Weekday()) // 0=Sunday, matching the config

	if start <= end {
		return dayEnabled(cfg.Days, weekday) && minutes >= start && minutes < end
	}

	// Crossing midnight: either the late side of the start day, or the
	// early side of the day after an enabled start day.
	if minutes >= start {
		return dayEnabled(cfg.Days, weekday)
	}
	if minutes < end {
		previous := (weekday + 6) % 7
		return dayEnabled(cfg.Days, previous)
	}
	return false
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func dayEnabled(days []int, weekday int) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == weekday {
			return true
		}
	}
	return false
}

func matchExactKeyword(keywords []string, text string) bool {
	for _, kw := range keywords {
		if strings.EqualFold(strings.TrimSpace(kw), text) {
			return true
		}
	}
	return false
}

// matchGeneralRule finds the first rule whose keyword list matches the
// text. Keywords is a comma-separated list; matchType is contains or exact.
func matchGeneralRule(rules []models.GeneralReplyRule, text string) *models.GeneralReplyRule {
	lower := strings.ToLower(text)
	for i := range rules {
		rule := &rules[i]
		for _, kw := range strings.Split(rule.Keywords, ",") {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			switch rule.MatchType {
			case "exact":
				if lower == kw {
					return rule
				}
			default:
				if strings.Contains(lower, kw) {
					return rule
				}
			}
		}
	}
	return nil
}
