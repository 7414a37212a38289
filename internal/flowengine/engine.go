// Package flowengine drives the per-contact conversation state machine:
// it starts a flow when a trigger keyword matches, resumes a suspended one
// on the next inbound event, and executes nodes until the flow suspends or
// ends.
package flowengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/interp"
	"github.com/sabnode/messaging-engine/internal/models"
	"github.com/sabnode/messaging-engine/internal/wa"
)

// Inbound is the engine's view of one user event.
type Inbound struct {
	Text        string
	ButtonID    string
	ButtonTitle string
	WAMID       string
}

type contactFlowStore interface {
	SetActiveFlow(ctx context.Context, contactID int64, state *models.ActiveFlowState, version int64) (bool, error)
}

type flowStore interface {
	GetByID(ctx context.Context, id int64) (*models.Flow, error)
	ListByProject(ctx context.Context, projectID int64) ([]*models.Flow, error)
}

type outboundStore interface {
	Create(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// Translator renders outbound text into the language a contact picked at a
// language_select node. The default engine has none and sends text as-is.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Config bounds one execution segment.
type Config struct {
	// MaxSteps caps node transitions per inbound event so a cyclic graph
	// cannot spin forever.
	MaxSteps int
	// SuspendTimeout is how long a waiting flow survives without input.
	SuspendTimeout time.Duration
}

type Engine struct {
	sender     wa.Sender
	contacts   contactFlowStore
	flows      flowStore
	flowLogs   flowLogStore
	messages   outboundStore
	translator Translator
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
}

func NewEngine(sender wa.Sender, contacts contactFlowStore, flows flowStore, flowLogs flowLogStore, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 50
	}
	if cfg.SuspendTimeout <= 0 {
		cfg.SuspendTimeout = 10 * time.Minute
	}
	return &Engine{
		sender:     sender,
		contacts:   contacts,
		flows:      flows,
		flowLogs:   flowLogs,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cfg:        cfg,
		logger:     logger,
	}
}

// SetTranslator wires an optional translation collaborator.
func (e *Engine) SetTranslator(t Translator) { e.translator = t }

// SetMessageStore wires the store that keeps a row per outbound send, so
// later delivery receipts have something to land on.
func (e *Engine) SetMessageStore(s outboundStore) { e.messages = s }

// recordOutbound persists an outgoing message row keyed by the provider
// message id. A store failure never interrupts the flow.
func (e *Engine) recordOutbound(ctx context.Context, contact *models.Contact, wamid, msgType string, content models.JSONMap) {
	if e.messages == nil || wamid == "" {
		return
	}
	if _, err := e.messages.Create(ctx, &models.Message{
		ProjectID:        contact.ProjectID,
		ContactID:        contact.ID,
		Direction:        models.DirectionOut,
		Wamid:            wamid,
		Type:             msgType,
		Content:          content,
		Status:           models.StatusPending,
		MessageTimestamp: time.Now(),
	}); err != nil {
		e.logger.Error("Failed to record outbound message",
			zap.String("wamid", wamid), zap.Error(err))
	}
}

// HandleInbound advances the contact's automation for one inbound event.
// It reports whether a flow consumed the event; false hands the event to
// the auto-reply engine.
func (e *Engine) HandleInbound(ctx context.Context, project *models.Project, contact *models.Contact, in Inbound) (bool, error) {
	if contact.ActiveFlow != nil {
		return e.resume(ctx, project, contact, in)
	}
	return e.matchTrigger(ctx, project, contact, in)
}

// AbandonTimedOut clears a waiting cursor that outlived the suspend
// timeout; used by the periodic sweep. Returns true if the cursor was
// cleared.
func (e *Engine) AbandonTimedOut(ctx context.Context, contact *models.Contact) (bool, error) {
	state := contact.ActiveFlow
	if state == nil || state.WaitingSince == nil || time.Since(*state.WaitingSince) < e.cfg.SuspendTimeout {
		return false, nil
	}
	return e.abandon(ctx, contact)
}

func (e *Engine) abandon(ctx context.Context, contact *models.Contact) (bool, error) {
	state := contact.ActiveFlow

	log := &runLog{projectID: contact.ProjectID, contactID: contact.ID, flowID: state.FlowID}
	if flow, err := e.flows.GetByID(ctx, state.FlowID); err == nil {
		log.flowName = flow.Name
	}
	log.add("flow abandoned: input wait exceeded timeout", map[string]any{
		"node":         state.CurrentNodeID,
		"waitingSince": state.WaitingSince,
	})

	ok, err := e.clearCursor(ctx, contact)
	if err != nil {
		return false, err
	}
	log.flush(ctx, e.flowLogs, e.logger)
	return ok, nil
}

func (e *Engine) resume(ctx context.Context, project *models.Project, contact *models.Contact, in Inbound) (bool, error) {
	state := contact.ActiveFlow

	if state.WaitingSince != nil && time.Since(*state.WaitingSince) >= e.cfg.SuspendTimeout {
		cleared, err := e.abandon(ctx, contact)
		if err != nil {
			return false, err
		}
		if !cleared {
			// A concurrent writer moved the cursor; let it own the event.
			return true, nil
		}
		return e.matchTrigger(ctx, project, contact, in)
	}

	flow, err := e.flows.GetByID(ctx, state.FlowID)
	if err != nil {
		e.logger.Warn("Active flow definition missing, terminating",
			zap.Int64("contact_id", contact.ID),
			zap.Int64("flow_id", state.FlowID),
			zap.Error(err))
		_, clearErr := e.clearCursor(ctx, contact)
		return false, clearErr
	}

	node := flow.Node(state.CurrentNodeID)
	if node == nil {
		log := newRunLog(contact.ProjectID, contact.ID, flow)
		log.add("current node missing from definition, terminating", map[string]any{"node": state.CurrentNodeID})
		_, clearErr := e.clearCursor(ctx, contact)
		log.flush(ctx, e.flowLogs, e.logger)
		return false, clearErr
	}

	vars := state.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	log := newRunLog(contact.ProjectID, contact.ID, flow)

	nextID, matched := e.matchInput(flow, node, in, vars, log)
	if !matched {
		log.add("input did not match expected shape, terminating", map[string]any{
			"node": node.ID,
			"text": in.Text,
		})
		_, clearErr := e.clearCursor(ctx, contact)
		log.flush(ctx, e.flowLogs, e.logger)
		return false, clearErr
	}

	return e.run(ctx, project, contact, in, flow, nextID, vars, log)
}

// matchInput resolves a waiting node against the inbound event and returns
// the next node id. A non-match terminates the flow per policy.
func (e *Engine) matchInput(flow *models.Flow, node *models.Node, in Inbound, vars map[string]any, log *runLog) (string, bool) {
	switch data := node.Data.(type) {
	case *models.ButtonsData:
		for _, btn := range data.Buttons {
			if (in.ButtonID != "" && btn.ID == in.ButtonID) ||
				(in.ButtonTitle != "" && strings.EqualFold(btn.Title, in.ButtonTitle)) ||
				(in.Text != "" && strings.EqualFold(btn.Title, in.Text)) {
				log.add("button selected", map[string]any{"node": node.ID, "button": btn.ID})
				return flow.NextNode(node.ID, btn.ID), true
			}
		}
		return "", false

	case *models.LanguageSelectData:
		for _, opt := range data.Options {
			if (in.ButtonID != "" && opt.Language == in.ButtonID) ||
				(in.ButtonTitle != "" && strings.EqualFold(opt.Title, in.ButtonTitle)) ||
				(in.Text != "" && strings.EqualFold(opt.Title, in.Text)) {
				vars["flow_language"] = opt.Language
				log.add("language selected", map[string]any{"node": node.ID, "language": opt.Language})
				next := flow.NextNode(node.ID, opt.Language)
				if next == "" {
					next = flow.NextNode(node.ID, "")
				}
				return next, true
			}
		}
		return "", false

	case *models.InputData:
		if in.Text == "" {
			return "", false
		}
		vars[data.Variable] = in.Text
		log.add("input captured", map[string]any{"node": node.ID, "variable": data.Variable})
		return flow.NextNode(node.ID, ""), true

	case *models.ConditionData:
		if !data.OnUserResponse || in.Text == "" {
			return "", false
		}
		vars["user_response"] = in.Text
		left := data.Left
		if left == "" {
			left = in.Text
		}
		branch := e.evalCondition(data.Operator, left, data.Right, vars, log)
		log.add("condition evaluated on user response", map[string]any{"node": node.ID, "branch": branch})
		return flow.NextNode(node.ID, branch), true

	default:
		// The flow is parked on a node that does not accept chat input
		// (e.g. a pending payment confirmation).
		return "", false
	}
}

func (e *Engine) matchTrigger(ctx context.Context, project *models.Project, contact *models.Contact, in Inbound) (bool, error) {
	text := strings.ToLower(strings.TrimSpace(in.Text))
	if text == "" {
		text = strings.ToLower(strings.TrimSpace(in.ButtonTitle))
	}
	if text == "" {
		return false, nil
	}

	flows, err := e.flows.ListByProject(ctx, project.ID)
	if err != nil {
		return false, fmt.Errorf("list flows: %w", err)
	}

	for _, flow := range flows {
		keyword, ok := matchKeyword(flow.TriggerKeywords, text)
		if !ok {
			continue
		}

		start := flow.StartNode()
		if start == nil {
			e.logger.Warn("Flow has no start node",
				zap.Int64("flow_id", flow.ID), zap.String("flow", flow.Name))
			continue
		}

		vars := map[string]any{
			"name":  contact.Name,
			"wa_id": contact.WaID,
			"phone": contact.WaID,
		}
		log := newRunLog(contact.ProjectID, contact.ID, flow)
		log.add("flow triggered", map[string]any{"keyword": keyword, "text": in.Text})

		return e.run(ctx, project, contact, in, flow, start.ID, vars, log)
	}

	return false, nil
}

func matchKeyword(keywords models.Keywords, text string) (string, bool) {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// run is the trampoline: it walks the graph one node at a time until the
// flow suspends, ends, or hits the step ceiling.
func (e *Engine) run(ctx context.Context, project *models.Project, contact *models.Contact, in Inbound, flow *models.Flow, nodeID string, vars map[string]any, log *runLog) (bool, error) {
	creds := project.Credentials(contact.PhoneNumberID)

	for steps := 0; steps < e.cfg.MaxSteps; steps++ {
		if nodeID == "" {
			log.add("flow completed", nil)
			return e.finish(ctx, contact, log)
		}

		node := flow.Node(nodeID)
		if node == nil {
			log.add("edge points to missing node, terminating", map[string]any{"node": nodeID})
			return e.finish(ctx, contact, log)
		}

		switch data := node.Data.(type) {
		case *models.StartData:
			nodeID = flow.NextNode(node.ID, "")

		case *models.TextData:
			text := e.render(ctx, data.Text, vars, log)
			if wamid, err := e.sender.SendText(ctx, creds, contact.WaID, text); err != nil {
				log.add("text send failed", map[string]any{"node": node.ID, "error": err.Error()})
			} else {
				e.recordOutbound(ctx, contact, wamid, "text", models.JSONMap{"text": text})
				log.add("sent text", map[string]any{"node": node.ID})
			}
			nodeID = flow.NextNode(node.ID, "")

		case *models.ImageData:
			caption := e.render(ctx, data.Caption, vars, log)
			if wamid, err := e.sender.SendImage(ctx, creds, contact.WaID, data.URL, caption); err != nil {
				log.add("image send failed", map[string]any{"node": node.ID, "error": err.Error()})
			} else {
				e.recordOutbound(ctx, contact, wamid, "image", models.JSONMap{"url": data.URL, "caption": caption})
				log.add("sent image", map[string]any{"node": node.ID})
			}
			nodeID = flow.NextNode(node.ID, "")

		case *models.ButtonsData:
			text := e.render(ctx, data.Text, vars, log)
			wamid, err := e.sender.SendButtons(ctx, creds, contact.WaID, text, data.Buttons)
			if err != nil {
				log.add("buttons send failed", map[string]any{"node": node.ID, "error": err.Error()})
				return e.finish(ctx, contact, log)
			}
			e.recordOutbound(ctx, contact, wamid, "interactive", models.JSONMap{"text": text})
			log.add("sent buttons, waiting for selection", map[string]any{"node": node.ID})
			return e.suspend(ctx, contact, flow, node.ID, vars, log)

		case *models.InputData:
			prompt := e.render(ctx, data.Text, vars, log)
			wamid, err := e.sender.SendText(ctx, creds, contact.WaID, prompt)
			if err != nil {
				log.add("input prompt send failed", map[string]any{"node": node.ID, "error": err.Error()})
				return e.finish(ctx, contact, log)
			}
			e.recordOutbound(ctx, contact, wamid, "text", models.JSONMap{"text": prompt})
			log.add("sent input prompt, waiting for reply", map[string]any{"node": node.ID, "variable": data.Variable})
			return e.suspend(ctx, contact, flow, node.ID, vars, log)

		case *models.ConditionData:
			if data.OnUserResponse {
				log.add("waiting for user response to evaluate condition", map[string]any{"node": node.ID})
				return e.suspend(ctx, contact, flow, node.ID, vars, log)
			}
			branch := e.evalCondition(data.Operator, data.Left, data.Right, vars, log)
			log.add("condition evaluated", map[string]any{"node": node.ID, "branch": branch})
			nodeID = flow.NextNode(node.ID, branch)

		case *models.DelayData:
			if data.Typing && in.WAMID != "" {
				if err := e.sender.MarkReadWithTyping(ctx, creds, in.WAMID); err != nil {
					log.add("typing indicator failed", map[string]any{"node": node.ID, "error": err.Error()})
				}
			}
			select {
			case <-ctx.Done():
				log.add("delay interrupted", map[string]any{"node": node.ID})
				log.flush(ctx, e.flowLogs, e.logger)
				return true, ctx.Err()
			case <-time.After(time.Duration(data.Seconds) * time.Second):
			}
			log.add("delay elapsed", map[string]any{"node": node.ID, "seconds": data.Seconds})
			nodeID = flow.NextNode(node.ID, "")

		case *models.APICallData:
			e.callAPI(ctx, node.ID, data, vars, log)
			nodeID = flow.NextNode(node.ID, "")

		case *models.SendTemplateData:
			tpl := wa.BuildTemplate(&wa.TemplateSpec{Name: data.TemplateName, Language: data.Language}, vars)
			if wamid, err := e.sender.SendTemplate(ctx, creds, contact.WaID, tpl); err != nil {
				log.add("template send failed", map[string]any{"node": node.ID, "template": data.TemplateName, "error": err.Error()})
			} else {
				e.recordOutbound(ctx, contact, wamid, "template", models.JSONMap{"template": data.TemplateName})
				log.add("sent template", map[string]any{"node": node.ID, "template": data.TemplateName})
			}
			nodeID = flow.NextNode(node.ID, "")

		case *models.LanguageSelectData:
			text := e.render(ctx, data.Text, vars, log)
			wamid, err := e.sendLanguageOptions(ctx, creds, contact.WaID, text, data.Options)
			if err != nil {
				log.add("language prompt send failed", map[string]any{"node": node.ID, "error": err.Error()})
				return e.finish(ctx, contact, log)
			}
			e.recordOutbound(ctx, contact, wamid, "interactive", models.JSONMap{"text": text})
			log.add("sent language options, waiting for selection", map[string]any{"node": node.ID})
			return e.suspend(ctx, contact, flow, node.ID, vars, log)

		case *models.PaymentRequestData:
			text := e.render(ctx, data.Description, vars, log)
			if text == "" {
				text = "Payment requested"
			}
			if data.Amount != "" {
				text = fmt.Sprintf("%s\nAmount: %s", text, e.render(ctx, data.Amount, vars, log))
			}
			wamid, err := e.sender.SendText(ctx, creds, contact.WaID, text)
			if err != nil {
				log.add("payment request send failed", map[string]any{"node": node.ID, "error": err.Error()})
				return e.finish(ctx, contact, log)
			}
			e.recordOutbound(ctx, contact, wamid, "text", models.JSONMap{"text": text})
			log.add("payment requested, waiting for confirmation", map[string]any{"node": node.ID})
			return e.suspend(ctx, contact, flow, node.ID, vars, log)

		case *models.SubFlowTriggerData:
			sub, err := e.flows.GetByID(ctx, data.FlowID)
			if err != nil {
				log.add("sub-flow missing, terminating", map[string]any{"node": node.ID, "flowId": data.FlowID})
				return e.finish(ctx, contact, log)
			}
			start := sub.StartNode()
			if start == nil {
				log.add("sub-flow has no start node, terminating", map[string]any{"flowId": sub.ID})
				return e.finish(ctx, contact, log)
			}
			log.add("jumped to sub-flow", map[string]any{"from": flow.ID, "to": sub.ID})
			log.switchFlow(sub)
			flow = sub
			nodeID = start.ID

		default:
			log.add("unhandled node type, terminating", map[string]any{"node": node.ID, "type": string(node.Type)})
			return e.finish(ctx, contact, log)
		}
	}

	log.add("step limit reached, terminating", map[string]any{"limit": e.cfg.MaxSteps})
	return e.finish(ctx, contact, log)
}

func (e *Engine) sendLanguageOptions(ctx context.Context, creds models.Credentials, to, body string, options []models.LanguageOption) (string, error) {
	buttons := make([]models.Button, 0, len(options))
	for _, opt := range options {
		buttons = append(buttons, models.Button{ID: opt.Language, Title: opt.Title})
	}
	if len(buttons) <= 3 {
		return e.sender.SendButtons(ctx, creds, to, body, buttons)
	}
	return e.sender.SendList(ctx, creds, to, body, "Choose", buttons)
}

// suspend persists the cursor guarded by the version the event handler
// loaded. Losing the race means another event already moved the contact.
func (e *Engine) suspend(ctx context.Context, contact *models.Contact, flow *models.Flow, nodeID string, vars map[string]any, log *runLog) (bool, error) {
	now := time.Now()
	state := &models.ActiveFlowState{
		FlowID:        flow.ID,
		CurrentNodeID: nodeID,
		Variables:     vars,
		WaitingSince:  &now,
	}

	ok, err := e.contacts.SetActiveFlow(ctx, contact.ID, state, contact.FlowVersion)
	if err != nil {
		return true, fmt.Errorf("persist flow cursor: %w", err)
	}
	if !ok {
		log.add("concurrent flow update won, cursor not persisted", map[string]any{"node": nodeID})
	} else {
		contact.ActiveFlow = state
		contact.FlowVersion++
	}

	log.flush(ctx, e.flowLogs, e.logger)
	return true, nil
}

func (e *Engine) finish(ctx context.Context, contact *models.Contact, log *runLog) (bool, error) {
	if contact.ActiveFlow != nil {
		if _, err := e.clearCursor(ctx, contact); err != nil {
			log.flush(ctx, e.flowLogs, e.logger)
			return true, err
		}
	}
	log.flush(ctx, e.flowLogs, e.logger)
	return true, nil
}

func (e *Engine) clearCursor(ctx context.Context, contact *models.Contact) (bool, error) {
	ok, err := e.contacts.SetActiveFlow(ctx, contact.ID, nil, contact.FlowVersion)
	if err != nil {
		return false, fmt.Errorf("clear flow cursor: %w", err)
	}
	if ok {
		contact.ActiveFlow = nil
		contact.FlowVersion++
	}
	return ok, nil
}

// render interpolates variables and optionally translates. Missing
// variables are logged and left as literal tokens in the output.
func (e *Engine) render(ctx context.Context, text string, vars map[string]any, log *runLog) string {
	out, err := interp.Interpolate(text, vars)
	if err != nil {
		var missing *interp.MissingVarsError
		if errors.As(err, &missing) {
			log.add("interpolation missing variables", map[string]any{"vars": missing.Names})
		}
	}

	lang, _ := vars["flow_language"].(string)
	if lang != "" && e.translator != nil {
		translated, terr := e.translator.Translate(ctx, out, lang)
		if terr != nil {
			log.add("translation failed", map[string]any{"lang": lang, "error": terr.Error()})
		} else {
			out = translated
		}
	}
	return out
}

func (e *Engine) evalCondition(op models.ConditionOperator, left, right string, vars map[string]any, log *runLog) string {
	l, err := interp.Interpolate(left, vars)
	if err != nil {
		log.add("condition left side has missing variables", nil)
	}
	r, err := interp.Interpolate(right, vars)
	if err != nil {
		log.add("condition right side has missing variables", nil)
	}

	if conditionHolds(op, strings.TrimSpace(l), strings.TrimSpace(r)) {
		return "yes"
	}
	return "no"
}

func conditionHolds(op models.ConditionOperator, left, right string) bool {
	switch op {
	case models.OpEquals:
		return strings.EqualFold(left, right)
	case models.OpNotEquals:
		return !strings.EqualFold(left, right)
	case models.OpContains:
		return strings.Contains(strings.ToLower(left), strings.ToLower(right))
	case models.OpIsOneOf:
		return inList(left, right)
	case models.OpIsNotOneOf:
		return !inList(left, right)
	case models.OpGreaterThan:
		lf, lerr := strconv.ParseFloat(left, 64)
		rf, rerr := strconv.ParseFloat(right, 64)
		return lerr == nil && rerr == nil && lf > rf
	case models.OpLessThan:
		lf, lerr := strconv.ParseFloat(left, 64)
		rf, rerr := strconv.ParseFloat(right, 64)
		return lerr == nil && rerr == nil && lf < rf
	default:
		return false
	}
}

func inList(value, list string) bool {
	for _, item := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}

// callAPI performs the outbound HTTP call of an api_call node. Failures are
// logged and execution continues down the main edge.
func (e *Engine) callAPI(ctx context.Context, nodeID string, data *models.APICallData, vars map[string]any, log *runLog) {
	url := e.render(ctx, data.URL, vars, log)
	body := e.render(ctx, data.Body, vars, log)

	method := strings.ToUpper(data.Method)
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		log.add("api call request invalid", map[string]any{"node": nodeID, "error": err.Error()})
		return
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range data.Headers {
		req.Header.Set(k, e.render(ctx, v, vars, log))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		log.add("api call failed", map[string]any{"node": nodeID, "error": err.Error()})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.add("api call response unreadable", map[string]any{"node": nodeID, "error": err.Error()})
		return
	}

	log.add("api call completed", map[string]any{"node": nodeID, "status": resp.StatusCode})

	if len(data.Mappings) == 0 {
		return
	}
	mappings := make([]interp.Mapping, 0, len(data.Mappings))
	for _, m := range data.Mappings {
		mappings = append(mappings, interp.Mapping{Variable: m.Variable, Path: m.Path})
	}
	if err := interp.MapResponse(respBody, mappings, vars); err != nil {
		log.add("api response mapping failed", map[string]any{"node": nodeID, "error": err.Error()})
	}
}
