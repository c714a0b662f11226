package models

// ConditionType selects which entity attribute a condition reads.
type ConditionType string

const (
	ConditionStatus      ConditionType = "status"
	ConditionSource      ConditionType = "source"
	ConditionStage       ConditionType = "stage"
	ConditionScore       ConditionType = "score"
	ConditionTag         ConditionType = "tag"
	ConditionOwner       ConditionType = "owner"
	ConditionValue       ConditionType = "value"
	ConditionCustomField ConditionType = "custom-field"
)

func AllConditionTypes() []ConditionType {
	return []ConditionType{
		ConditionStatus, ConditionSource, ConditionStage, ConditionScore,
		ConditionTag, ConditionOwner, ConditionValue, ConditionCustomField,
	}
}

func (t ConditionType) Valid() bool {
	for _, known := range AllConditionTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// Operator is a condition comparison.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not-equals"
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "not-contains"
	OperatorGreaterThan Operator = "greater-than"
	OperatorLessThan    Operator = "less-than"
	OperatorIn          Operator = "in"
	OperatorNotIn       Operator = "not-in"
)

func AllOperators() []Operator {
	return []Operator{
		OperatorEquals, OperatorNotEquals, OperatorContains, OperatorNotContains,
		OperatorGreaterThan, OperatorLessThan, OperatorIn, OperatorNotIn,
	}
}

func (o Operator) Valid() bool {
	for _, known := range AllOperators() {
		if o == known {
			return true
		}
	}

	return false
}

// Connector joins a condition to the next one in the list.
type Connector string

const (
	ConnectorAnd Connector = "AND"
	ConnectorOr  Connector = "OR"
)

func (c Connector) Valid() bool {
	return c == ConnectorAnd || c == ConnectorOr || c == ""
}

// Condition is a single typed predicate. Connector applies between this
// condition and the one after it; an empty connector means AND.
type Condition struct {
	Type      ConditionType `json:"type"                yaml:"type"      validate:"required,enum"`
	Field     string        `json:"field,omitempty"     yaml:"field"     validate:"required_if=Type custom-field"`
	Operator  Operator      `json:"operator"            yaml:"operator"  validate:"required,enum"`
	Value     any           `json:"value"               yaml:"value"`
	Connector Connector     `json:"connector,omitempty" yaml:"connector" validate:"enum"`
}
