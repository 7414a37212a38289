package wa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTemplate_BodyVariables(t *testing.T) {
	spec := &TemplateSpec{
		Name:     "order_update",
		Language: "en_US",
		Components: []ComponentSpec{
			{Type: "BODY", Text: "Hi {{1}}, your order {{2}} has shipped."},
		},
		Mappings: []VariableMapping{
			{Var: "1", Value: "name"},
			{Var: "2", Value: "order.id"},
		},
	}
	vars := map[string]any{
		"name":  "Ravi",
		"order": map[string]any{"id": "A-42"},
	}

	payload := BuildTemplate(spec, vars)
	assert.Equal(t, "order_update", payload.Name)
	assert.Equal(t, "en_US", payload.Language.Code)
	require.Len(t, payload.Components, 1)

	body := payload.Components[0]
	assert.Equal(t, "body", body.Type)
	require.Len(t, body.Parameters, 2)
	assert.Equal(t, "Ravi", body.Parameters[0].Text)
	assert.Equal(t, "A-42", body.Parameters[1].Text)
}

func TestBuildTemplate_UnmappedVariableFallsBack(t *testing.T) {
	spec := &TemplateSpec{
		Name:       "promo",
		Components: []ComponentSpec{{Type: "BODY", Text: "Deal: {{1}}"}},
	}
	payload := BuildTemplate(spec, map[string]any{"variable1": "20% off"})

	require.Len(t, payload.Components, 1)
	require.Len(t, payload.Components[0].Parameters, 1)
	assert.Equal(t, "20% off", payload.Components[0].Parameters[0].Text)
	assert.Equal(t, "en_US", payload.Language.Code)
}

func TestBuildTemplate_ImageHeader(t *testing.T) {
	spec := &TemplateSpec{
		Name:     "promo_banner",
		Language: "en",
		Components: []ComponentSpec{
			{Type: "HEADER", Format: "IMAGE"},
			{Type: "BODY", Text: "No variables here."},
		},
		HeaderImageURL: "https://cdn.example.com/banner.jpg",
	}
	payload := BuildTemplate(spec, nil)

	require.Len(t, payload.Components, 1, "static body contributes no component")
	header := payload.Components[0]
	assert.Equal(t, "header", header.Type)
	require.Len(t, header.Parameters, 1)
	require.NotNil(t, header.Parameters[0].Image)
	assert.Equal(t, "https://cdn.example.com/banner.jpg", header.Parameters[0].Image.Link)
}

func TestBuildTemplate_HeaderMediaIDWins(t *testing.T) {
	spec := &TemplateSpec{
		Name:           "doc_delivery",
		Components:     []ComponentSpec{{Type: "HEADER", Format: "DOCUMENT"}},
		HeaderMediaID:  "media-123",
		HeaderImageURL: "https://cdn.example.com/fallback.pdf",
	}
	payload := BuildTemplate(spec, nil)

	require.Len(t, payload.Components, 1)
	doc := payload.Components[0].Parameters[0].Document
	require.NotNil(t, doc)
	assert.Equal(t, "media-123", doc.ID)
	assert.Empty(t, doc.Link)
}

func TestBuildTemplate_TextHeaderInterpolation(t *testing.T) {
	spec := &TemplateSpec{
		Name:       "greeting",
		Components: []ComponentSpec{{Type: "HEADER", Format: "TEXT", Text: "Hello {{name}}"}},
	}
	payload := BuildTemplate(spec, map[string]any{"name": "Ravi"})

	require.Len(t, payload.Components, 1)
	assert.Equal(t, "Hello Ravi", payload.Components[0].Parameters[0].Text)
}
