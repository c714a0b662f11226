package template

import (
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		variables map[string]any
		expected  string
	}{
		{
			name:      "substitutes a variable",
			input:     "Olá {{nome}}",
			variables: map[string]any{"nome": "Ana"},
			expected:  "Olá Ana",
		},
		{
			name:      "keeps missing tokens verbatim",
			input:     "Olá {{missing}}",
			variables: map[string]any{},
			expected:  "Olá {{missing}}",
		},
		{
			name:      "tolerates whitespace inside braces",
			input:     "Hi {{ name }}, from {{company}}",
			variables: map[string]any{"name": "Ana", "company": "Acme"},
			expected:  "Hi Ana, from Acme",
		},
		{
			name:      "formats numbers without trailing zeros",
			input:     "score={{score}}",
			variables: map[string]any{"score": 75.0},
			expected:  "score=75",
		},
		{
			name:      "nil values stay as tokens",
			input:     "{{owner}}",
			variables: map[string]any{"owner": nil},
			expected:  "{{owner}}",
		},
		{
			name:      "text without tokens is untouched",
			input:     "plain {text}",
			variables: nil,
			expected:  "plain {text}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Render(tt.input, tt.variables))
		})
	}
}

func TestTokens_Distinct(t *testing.T) {
	assert.Equal(t, []string{"name", "email"}, Tokens("{{name}} {{ email }} {{name}}"))
	assert.Empty(t, Tokens("nothing here"))
}

func TestValidate(t *testing.T) {
	errs := Validate("Hi {{name}} {{nome}} {{stage}} {{plan}}", Catalog(models.EntityLead))

	require.Len(t, errs, 2)

	var unknown *UnknownVariableError
	require.ErrorAs(t, errs[0], &unknown)
	assert.Equal(t, "nome", unknown.Name)
	assert.Contains(t, errs[1].Error(), "plan")

	assert.Empty(t, Validate("Contract {{contract_number}} expires {{expiry_date}}", Catalog(models.EntityContract)))
}

func TestCatalog(t *testing.T) {
	lead := Catalog(models.EntityLead)
	assert.Contains(t, lead, "current_date")
	assert.Contains(t, lead, "score")
	assert.NotContains(t, lead, "plan")

	union := CatalogUnion(models.EntityLead, models.EntityClient)
	assert.Contains(t, union, "plan")
	assert.Contains(t, union, "source")
	assert.NotContains(t, union, "due_date")
}

func TestRender_EntityVariables(t *testing.T) {
	score := 42.0
	entity := &models.Entity{
		Kind:  models.EntityLead,
		Name:  "Ana",
		Stage: "qualified",
		Score: &score,
	}
	now := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	out := Render("{{name}} is {{stage}} with {{score}} on {{current_date}} {{current_time}}", entity.Variables(now))

	assert.Equal(t, "Ana is qualified with 42 on 2024-03-05 14:30", out)
}
