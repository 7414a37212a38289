// Package interp expands {{variable}} tokens against a flow's variable bag
// and maps JSON response documents back into it.
package interp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRe = regexp.MustCompile(`{{\s*([\w.]+)\s*}}`)

// MissingVarsError reports tokens that had no value in the bag. The rendered
// string keeps those tokens intact so callers can decide whether a partial
// render is acceptable.
type MissingVarsError struct {
	Names []string
}

func (e *MissingVarsError) Error() string {
	return fmt.Sprintf("unresolved variables: %s", strings.Join(e.Names, ", "))
}

// Interpolate replaces {{name}} and {{dotted.path}} tokens in s with values
// from vars. It returns the rendered string and, if any token was left
// unresolved, a *MissingVarsError alongside it.
func Interpolate(s string, vars map[string]any) (string, error) {
	if s == "" || !strings.Contains(s, "{{") {
		return s, nil
	}
	var missing []string
	out := tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		name := tokenRe.FindStringSubmatch(tok)[1]
		v, ok := Lookup(vars, name)
		if !ok {
			missing = append(missing, name)
			return tok
		}
		return fmt.Sprintf("%v", v)
	})
	if len(missing) > 0 {
		return out, &MissingVarsError{Names: missing}
	}
	return out, nil
}

// Lookup resolves a variable name with optional dotted path segments into
// nested maps.
func Lookup(vars map[string]any, name string) (any, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	parts := strings.Split(name, ".")
	var cur any = vars
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Mapping binds a jsonpath expression to the variable it populates.
type Mapping struct {
	Variable string
	Path     string
}

// MapResponse evaluates each mapping's jsonpath against the JSON body and
// writes the result into vars. Paths that do not resolve are reported in the
// returned error; resolved mappings are applied regardless.
func MapResponse(body []byte, mappings []Mapping, vars map[string]any) error {
	if len(mappings) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	var failed []string
	for _, m := range mappings {
		v, err := jsonpath.JsonPathLookup(doc, m.Path)
		if err != nil {
			failed = append(failed, m.Path)
			continue
		}
		vars[m.Variable] = v
	}
	if len(failed) > 0 {
		return fmt.Errorf("unresolved response paths: %s", strings.Join(failed, ", "))
	}
	return nil
}
