package wa

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sabnode/messaging-engine/internal/interp"
)

// ComponentSpec describes one approved-template component as authored on
// the provider side.
type ComponentSpec struct {
	Type   string `json:"type"`             // HEADER | BODY
	Format string `json:"format,omitempty"` // TEXT | IMAGE | VIDEO | DOCUMENT
	Text   string `json:"text,omitempty"`
}

// VariableMapping binds a numbered template placeholder to a recipient
// variable key.
type VariableMapping struct {
	Var   string `json:"var"`
	Value string `json:"value"`
}

// TemplateSpec is the job-level template descriptor carried in a broadcast
// micro-batch.
type TemplateSpec struct {
	Name           string            `json:"name"`
	Language       string            `json:"language"`
	Components     []ComponentSpec   `json:"components,omitempty"`
	HeaderImageURL string            `json:"headerImageUrl,omitempty"`
	HeaderMediaID  string            `json:"headerMediaId,omitempty"`
	Mappings       []VariableMapping `json:"variableMappings,omitempty"`
}

var numberedVarRe = regexp.MustCompile(`{{\s*(\d+)\s*}}`)

// numberedVars returns the distinct {{N}} placeholders of a component text,
// ascending.
func numberedVars(text string) []int {
	seen := map[int]struct{}{}
	for _, m := range numberedVarRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seen[n] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// BuildTemplate renders the per-recipient template payload: header media or
// interpolated header text, and body parameters resolved through the
// variable mappings against the recipient's variable bag.
func BuildTemplate(spec *TemplateSpec, vars map[string]any) *TemplatePayload {
	lang := spec.Language
	if lang == "" {
		lang = "en_US"
	}
	payload := &TemplatePayload{
		Name:     spec.Name,
		Language: TemplateLanguage{Code: lang},
	}

	for _, comp := range spec.Components {
		switch strings.ToUpper(comp.Type) {
		case "HEADER":
			if p := buildHeaderParameter(spec, comp, vars); p != nil {
				payload.Components = append(payload.Components, TemplateComponent{
					Type:       "header",
					Parameters: []TemplateParameter{*p},
				})
			}
		case "BODY":
			nums := numberedVars(comp.Text)
			if len(nums) == 0 {
				continue
			}
			params := make([]TemplateParameter, 0, len(nums))
			for _, n := range nums {
				key := mappedKey(spec.Mappings, n)
				value := ""
				if v, ok := interp.Lookup(vars, key); ok {
					value = fmt.Sprintf("%v", v)
				}
				params = append(params, TemplateParameter{Type: "text", Text: value})
			}
			payload.Components = append(payload.Components, TemplateComponent{
				Type:       "body",
				Parameters: params,
			})
		}
	}
	return payload
}

func buildHeaderParameter(spec *TemplateSpec, comp ComponentSpec, vars map[string]any) *TemplateParameter {
	format := strings.ToLower(comp.Format)
	switch format {
	case "image", "video", "document":
		ref := &MediaRef{}
		if spec.HeaderMediaID != "" {
			ref.ID = spec.HeaderMediaID
		} else if spec.HeaderImageURL != "" {
			ref.Link = spec.HeaderImageURL
		} else {
			return nil
		}
		p := &TemplateParameter{Type: format}
		switch format {
		case "image":
			p.Image = ref
		case "video":
			p.Video = ref
		case "document":
			p.Document = ref
		}
		return p
	case "text":
		if comp.Text == "" || !strings.Contains(comp.Text, "{{") {
			return nil
		}
		// Header text carries named variables; partial renders are sent as-is.
		rendered, _ := interp.Interpolate(comp.Text, vars)
		return &TemplateParameter{Type: "text", Text: rendered}
	default:
		return nil
	}
}

func mappedKey(mappings []VariableMapping, n int) string {
	num := strconv.Itoa(n)
	for _, m := range mappings {
		if m.Var == num {
			return m.Value
		}
	}
	return "variable" + num
}
