package segment

// Operator is a comparison applied by a Criterion.
type Operator string

const (
	OpGT       Operator = "gt"
	OpLT       Operator = "lt"
	OpGTE      Operator = "gte"
	OpLTE      Operator = "lte"
	OpEQ       Operator = "eq"
	OpContains Operator = "contains"
)

// validOperators is the set of recognised comparison operators.
var validOperators = map[Operator]struct{}{
	OpGT:       {},
	OpLT:       {},
	OpGTE:      {},
	OpLTE:      {},
	OpEQ:       {},
	OpContains: {},
}

// Valid reports whether op is a recognised operator.
func (op Operator) Valid() bool {
	_, ok := validOperators[op]
	return ok
}

// LogicalOperator combines criterion results.
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// Fields with dedicated evaluation rules.
const (
	FieldDaysSinceLastOrder = "days_since_last_order"
	FieldLastOrderDate      = "last_order_date"
)

// NeverOrderedDays stands in for days_since_last_order when a user has no orders.
const NeverOrderedDays = 999999

// Criterion is one field/operator/value comparison.
type Criterion struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// RuleSet is the normalized form of a segment definition.
type RuleSet struct {
	LogicalOperator LogicalOperator `json:"logical_operator"`
	Criteria        []Criterion     `json:"criteria"`
	// Issues found while normalizing; never serialized with the rule set.
	Issues []Issue `json:"-"`
}

// IssueCode classifies why a criterion did not match or was degraded.
type IssueCode string

const (
	IssueMissingField                IssueCode = "MISSING_FIELD"
	IssueUnsupportedOperator         IssueCode = "UNSUPPORTED_OPERATOR"
	IssueInvalidRelativeDate         IssueCode = "INVALID_RELATIVE_DATE"
	IssueUnsupportedRelativeOperator IssueCode = "UNSUPPORTED_RELATIVE_OPERATOR"
	IssueIncomparableTypes           IssueCode = "INCOMPARABLE_TYPES"
	IssueUnsupportedValue            IssueCode = "UNSUPPORTED_VALUE"
	IssueMalformedLegacyEntry        IssueCode = "MALFORMED_LEGACY_ENTRY"
	IssueUnknownLogicalOperator      IssueCode = "UNKNOWN_LOGICAL_OPERATOR"
)

// Issue is a structured diagnostic attached to a rule set or a criterion.
// Criterion is -1 for issues that are not tied to a single criterion.
type Issue struct {
	Code      IssueCode `json:"code"`
	Criterion int       `json:"criterion"`
	Field     string    `json:"field,omitempty"`
	Message   string    `json:"message"`
}

// CriterionReport counts the outcomes of one criterion across all records.
type CriterionReport struct {
	Index     int               `json:"index"`
	Criterion Criterion         `json:"criterion"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Issues    map[IssueCode]int `json:"issues,omitempty"`
}
