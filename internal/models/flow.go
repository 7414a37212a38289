package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NodeType enumerates the closed set of automation node kinds. Decoding a
// flow definition fails on any type outside this set.
type NodeType string

const (
	NodeStart          NodeType = "start"
	NodeText           NodeType = "text"
	NodeImage          NodeType = "image"
	NodeButtons        NodeType = "buttons"
	NodeInput          NodeType = "input"
	NodeCondition      NodeType = "condition"
	NodeDelay          NodeType = "delay"
	NodeAPICall        NodeType = "api_call"
	NodeSendTemplate   NodeType = "send_template"
	NodeLanguageSelect NodeType = "language_select"
	NodePaymentRequest NodeType = "payment_request"
	NodeSubFlowTrigger NodeType = "sub_flow_trigger"
)

// NodeData is the per-kind configuration of a flow node. Exactly one
// concrete type corresponds to each NodeType.
type NodeData interface {
	nodeData()
}

type StartData struct{}

type TextData struct {
	Text string `json:"text"`
}

type ImageData struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ButtonsData struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons"`
}

type InputData struct {
	Text     string `json:"text"`
	Variable string `json:"variable"`
}

// ConditionOperator is the comparison applied between the interpolated left
// and right values of a condition node.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpIsOneOf     ConditionOperator = "is_one_of"
	OpIsNotOneOf  ConditionOperator = "is_not_one_of"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
)

type ConditionData struct {
	Operator ConditionOperator `json:"operator"`
	Left     string            `json:"left"`
	Right    string            `json:"right"`
	// OnUserResponse suspends the flow and compares against the contact's
	// next inbound text instead of the stored left value.
	OnUserResponse bool `json:"onUserResponse,omitempty"`
}

type DelayData struct {
	Seconds int  `json:"seconds"`
	Typing  bool `json:"typing,omitempty"`
}

type ResponseMapping struct {
	Variable string `json:"variable"`
	Path     string `json:"path"` // jsonpath, e.g. $.data.token
}

type APICallData struct {
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body,omitempty"`
	Mappings []ResponseMapping `json:"mappings,omitempty"`
}

type SendTemplateData struct {
	TemplateName string `json:"templateName"`
	Language     string `json:"language"`
}

type LanguageOption struct {
	Title    string `json:"title"`
	Language string `json:"language"`
}

type LanguageSelectData struct {
	Text    string           `json:"text"`
	Options []LanguageOption `json:"options"`
}

type PaymentRequestData struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type SubFlowTriggerData struct {
	FlowID int64 `json:"flowId"`
}

func (StartData) nodeData()          {}
func (TextData) nodeData()           {}
func (ImageData) nodeData()          {}
func (ButtonsData) nodeData()        {}
func (InputData) nodeData()          {}
func (ConditionData) nodeData()      {}
func (DelayData) nodeData()          {}
func (APICallData) nodeData()        {}
func (SendTemplateData) nodeData()   {}
func (LanguageSelectData) nodeData() {}
func (PaymentRequestData) nodeData() {}
func (SubFlowTriggerData) nodeData() {}

// Node is one vertex of a flow graph.
type Node struct {
	ID   string
	Type NodeType
	Data NodeData
}

type nodeEnvelope struct {
	ID   string          `json:"id"`
	Type NodeType        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var env nodeEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	data, err := decodeNodeData(env.Type, env.Data)
	if err != nil {
		return fmt.Errorf("node %q: %w", env.ID, err)
	}
	n.ID = env.ID
	n.Type = env.Type
	n.Data = data
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(n.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(nodeEnvelope{ID: n.ID, Type: n.Type, Data: raw})
}

func decodeNodeData(t NodeType, raw json.RawMessage) (NodeData, error) {
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	unmarshal := func(v NodeData) (NodeData, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
	switch t {
	case NodeStart:
		return unmarshal(&StartData{})
	case NodeText:
		return unmarshal(&TextData{})
	case NodeImage:
		return unmarshal(&ImageData{})
	case NodeButtons:
		return unmarshal(&ButtonsData{})
	case NodeInput:
		return unmarshal(&InputData{})
	case NodeCondition:
		return unmarshal(&ConditionData{})
	case NodeDelay:
		return unmarshal(&DelayData{})
	case NodeAPICall:
		return unmarshal(&APICallData{})
	case NodeSendTemplate:
		return unmarshal(&SendTemplateData{})
	case NodeLanguageSelect:
		return unmarshal(&LanguageSelectData{})
	case NodePaymentRequest:
		return unmarshal(&PaymentRequestData{})
	case NodeSubFlowTrigger:
		return unmarshal(&SubFlowTriggerData{})
	default:
		return nil, fmt.Errorf("unknown node type %q", t)
	}
}

// Edge connects two nodes. SourceHandle selects a branch on multi-output
// nodes (a button id, or "yes"/"no" on conditions); empty means the single
// main output.
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// FlowDefinition is the graph payload stored as one JSONB document.
type FlowDefinition struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (d FlowDefinition) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *FlowDefinition) Scan(src any) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into FlowDefinition", src)
	}
	return json.Unmarshal(b, d)
}

// Flow is an authored automation graph. Read-only to this core.
type Flow struct {
	ID              int64          `db:"id" json:"id"`
	ProjectID       int64          `db:"project_id" json:"project_id"`
	Name            string         `db:"name" json:"name"`
	Definition      FlowDefinition `db:"definition" json:"definition"`
	TriggerKeywords Keywords       `db:"trigger_keywords" json:"trigger_keywords"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// Keywords is a JSONB string array column.
type Keywords []string

func (k Keywords) Value() (driver.Value, error) {
	if k == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(k)
}

func (k *Keywords) Scan(src any) error {
	if src == nil {
		*k = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Keywords", src)
	}
	return json.Unmarshal(b, k)
}

// Node returns the node with the given id, or nil.
func (f *Flow) Node(id string) *Node {
	for i := range f.Definition.Nodes {
		if f.Definition.Nodes[i].ID == id {
			return &f.Definition.Nodes[i]
		}
	}
	return nil
}

// StartNode returns the flow's start node, or nil for a malformed graph.
func (f *Flow) StartNode() *Node {
	for i := range f.Definition.Nodes {
		if f.Definition.Nodes[i].Type == NodeStart {
			return &f.Definition.Nodes[i]
		}
	}
	return nil
}

// NextNode resolves the edge leaving nodeID via the given handle. An empty
// handle matches the node's single main output. Returns "" when no edge
// exists, which ends the flow.
func (f *Flow) NextNode(nodeID, handle string) string {
	for _, e := range f.Definition.Edges {
		if e.Source != nodeID {
			continue
		}
		if handle == "" {
			if e.SourceHandle == "" || e.SourceHandle == "main" {
				return e.Target
			}
			continue
		}
		if e.SourceHandle == handle {
			return e.Target
		}
	}
	return ""
}
