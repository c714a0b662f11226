package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	one := 1.0
	doc := Object([]string{"name", "days"}, map[string]any{
		"name": NonEmptyString(),
		"days": Number(&one),
	})

	require.NoError(t, Validate("thing", doc, map[string]any{"name": "x", "days": 3}))

	err := Validate("thing", doc, map[string]any{"name": "", "days": 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Issues, 2)
	assert.Contains(t, err.Error(), "thing")

	err = Validate("thing", doc, nil)
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Issues, 2)
}
