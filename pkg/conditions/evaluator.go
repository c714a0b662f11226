// Package conditions evaluates flow condition lists against entity snapshots.
package conditions

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
)

// Evaluator folds condition lists left to right. It never fails: conditions
// that cannot be evaluated are false.
type Evaluator struct {
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger: logger.With("module", "conditions"),
	}
}

// Evaluate returns true for an empty list. Otherwise each result is combined
// with the next one using the connector of the previous condition, without
// precedence or short-circuit grouping.
func (e *Evaluator) Evaluate(conditions []models.Condition, entity *models.Entity) bool {
	if len(conditions) == 0 {
		return true
	}

	result := e.evaluateOne(conditions[0], entity)

	for i := 1; i < len(conditions); i++ {
		next := e.evaluateOne(conditions[i], entity)

		switch conditions[i-1].Connector {
		case models.ConnectorOr:
			result = result || next
		case models.ConnectorAnd, "":
			result = result && next
		default:
			e.logger.Warn("unknown connector, treating as AND", "connector", conditions[i-1].Connector)

			result = result && next
		}
	}

	return result
}

func (e *Evaluator) evaluateOne(condition models.Condition, entity *models.Entity) bool {
	if entity == nil {
		return false
	}

	if !condition.Type.Valid() {
		e.logger.Warn("unknown condition type", "type", condition.Type)

		return false
	}

	actual, ok := entity.Lookup(condition.Type, condition.Field)
	if !ok {
		e.logger.Debug("condition field absent on entity",
			"type", condition.Type,
			"field", condition.Field,
			"entity_id", entity.ID,
		)

		return false
	}

	switch condition.Operator {
	case models.OperatorEquals:
		return equals(actual, condition.Value)
	case models.OperatorNotEquals:
		return !equals(actual, condition.Value)
	case models.OperatorContains:
		return contains(actual, condition.Value)
	case models.OperatorNotContains:
		return !contains(actual, condition.Value)
	case models.OperatorGreaterThan:
		a, b, ok := numbers(actual, condition.Value)

		return ok && a > b
	case models.OperatorLessThan:
		a, b, ok := numbers(actual, condition.Value)

		return ok && a < b
	case models.OperatorIn:
		set, ok := valueSet(condition.Value)

		return ok && in(actual, set)
	case models.OperatorNotIn:
		set, ok := valueSet(condition.Value)

		return ok && !in(actual, set)
	default:
		e.logger.Warn("unknown condition operator", "operator", condition.Operator)

		return false
	}
}

func equals(actual, expected any) bool {
	if list, ok := actual.([]string); ok {
		return slices.Contains(list, stringify(expected))
	}

	if _, isString := actual.(string); !isString {
		if a, b, ok := numbers(actual, expected); ok {
			return a == b
		}
	}

	return stringify(actual) == stringify(expected)
}

func contains(actual, expected any) bool {
	if list, ok := actual.([]string); ok {
		return slices.Contains(list, stringify(expected))
	}

	return strings.Contains(stringify(actual), stringify(expected))
}

func in(actual any, set []string) bool {
	if list, ok := actual.([]string); ok {
		for _, item := range list {
			if slices.Contains(set, item) {
				return true
			}
		}

		return false
	}

	return slices.Contains(set, stringify(actual))
}

// numbers converts both sides to float64. Non numeric sides fail the check.
func numbers(actual, expected any) (float64, float64, bool) {
	a, ok := models.ToFloat(actual)
	if !ok {
		return 0, 0, false
	}

	b, ok := models.ToFloat(expected)
	if !ok {
		return 0, 0, false
	}

	return a, b, true
}

// valueSet accepts a list or a comma separated string.
func valueSet(value any) ([]string, bool) {
	if s, ok := value.(string); ok {
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		return parts, true
	}

	set := models.ToStrings(value)

	return set, set != nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}

	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	return fmt.Sprint(v)
}
