// Package template renders {{variable}} placeholders in message texts and
// checks templates against the variables available for an entity kind.
package template

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-]+)\s*\}\}`)

var baseCatalog = []string{"name", "email", "phone", "company", "current_date", "current_time"}

var contextCatalog = map[models.EntityKind][]string{
	models.EntityLead:     {"status", "source", "stage", "score", "owner"},
	models.EntityClient:   {"status", "segment", "stage", "owner", "plan"},
	models.EntityContract: {"contract_number", "value", "signed_date", "expiry_date", "status"},
	models.EntityTask:     {"title", "due_date", "priority", "assignee", "status"},
}

// Render replaces every {{name}} token with its value. Tokens without a value
// are kept verbatim.
func Render(input string, variables map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(input, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]

		value, ok := variables[name]
		if !ok || value == nil {
			return token
		}

		return format(value)
	})
}

// Tokens returns the distinct variable names referenced by input, in order of
// first appearance.
func Tokens(input string) []string {
	var names []string

	for _, match := range tokenPattern.FindAllStringSubmatch(input, -1) {
		if !slices.Contains(names, match[1]) {
			names = append(names, match[1])
		}
	}

	return names
}

// UnknownVariableError reports a token that is not part of the catalog.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown template variable %q", e.Name)
}

// Validate returns one error per token of input that is not in available.
func Validate(input string, available []string) []error {
	var errs []error

	for _, name := range Tokens(input) {
		if !slices.Contains(available, name) {
			errs = append(errs, &UnknownVariableError{Name: name})
		}
	}

	return errs
}

// Catalog returns the variable names available for kind.
func Catalog(kind models.EntityKind) []string {
	names := make([]string, 0, len(baseCatalog)+len(contextCatalog[kind]))
	names = append(names, baseCatalog...)

	return append(names, contextCatalog[kind]...)
}

// CatalogUnion returns the names available for any of kinds. With no kinds
// every context is included.
func CatalogUnion(kinds ...models.EntityKind) []string {
	if len(kinds) == 0 {
		kinds = models.AllEntityKinds()
	}

	names := slices.Clone(baseCatalog)

	for _, kind := range kinds {
		for _, name := range contextCatalog[kind] {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}

	return names
}

func format(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case time.Time:
		return v.Format("2006-01-02")
	case *time.Time:
		if v == nil {
			return ""
		}

		return v.Format("2006-01-02")
	default:
		return fmt.Sprint(v)
	}
}
