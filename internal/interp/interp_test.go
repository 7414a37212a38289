package interp_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabnode/messaging-engine/internal/interp"
)

func TestInterpolate_Simple(t *testing.T) {
	out, err := interp.Interpolate("Hi {{name}}", map[string]any{"name": "Ravi"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ravi", out)
}

func TestInterpolate_DottedPath(t *testing.T) {
	vars := map[string]any{
		"order": map[string]any{"id": "A-42", "total": 99.5},
	}

	out, err := interp.Interpolate("Order {{order.id}} total {{order.total}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "Order A-42 total 99.5", out)
}

func TestInterpolate_MissingVariableReported(t *testing.T) {
	out, err := interp.Interpolate("Hi {{name}}, code {{code}}", map[string]any{"name": "Ravi"})

	var missing *interp.MissingVarsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"code"}, missing.Names)
	// Unresolved tokens stay intact rather than vanishing.
	assert.Equal(t, "Hi Ravi, code {{code}}", out)
}

func TestInterpolate_NoTokens(t *testing.T) {
	out, err := interp.Interpolate("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestInterpolate_WhitespaceInToken(t *testing.T) {
	out, err := interp.Interpolate("Hi {{ name }}", map[string]any{"name": "Asha"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Asha", out)
}

func TestMapResponse(t *testing.T) {
	body := []byte(`{"data":{"token":"abc","user":{"id":7}}}`)
	vars := map[string]any{}

	err := interp.MapResponse(body, []interp.Mapping{
		{Variable: "token", Path: "$.data.token"},
		{Variable: "userId", Path: "$.data.user.id"},
	}, vars)
	require.NoError(t, err)

	assert.Equal(t, "abc", vars["token"])
	assert.EqualValues(t, 7, vars["userId"])
}

func TestMapResponse_UnresolvedPathStillAppliesOthers(t *testing.T) {
	body := []byte(`{"ok":true}`)
	vars := map[string]any{}

	err := interp.MapResponse(body, []interp.Mapping{
		{Variable: "ok", Path: "$.ok"},
		{Variable: "nope", Path: "$.missing.value"},
	}, vars)

	require.Error(t, err)
	assert.Equal(t, true, vars["ok"])
	_, exists := vars["nope"]
	assert.False(t, exists)
}

func TestMapResponse_InvalidJSON(t *testing.T) {
	err := interp.MapResponse([]byte("not json"), []interp.Mapping{{Variable: "x", Path: "$.x"}}, map[string]any{})
	require.Error(t, err)
}
