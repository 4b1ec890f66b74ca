package segment

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Validate.
var (
	ErrInvalidLogicalOperator = errors.New("invalid logical operator")
	ErrInvalidCriterion       = errors.New("invalid criterion")
	ErrInvalidOperator        = errors.New("invalid operator")
	ErrInvalidValue           = errors.New("invalid value")
)

// Validate is the strict check applied when a definition is written. Reads
// stay lenient so definitions saved before validation existed still evaluate.
// Unknown field names are allowed because users carry open attributes.
func Validate(definition []byte) error {
	rs, err := Parse(definition)
	if err != nil {
		return err
	}
	return ValidateRuleSet(rs)
}

// ValidateRuleSet rejects rule sets whose criteria could never pass.
func ValidateRuleSet(rs RuleSet) error {
	for _, issue := range rs.Issues {
		switch issue.Code {
		case IssueUnknownLogicalOperator:
			return fmt.Errorf("%w: %s", ErrInvalidLogicalOperator, issue.Message)
		case IssueMalformedLegacyEntry:
			return fmt.Errorf("%w: %s", ErrInvalidCriterion, issue.Message)
		default:
			if issue.Criterion >= 0 {
				return fmt.Errorf("%w: criteria[%d] %s", ErrInvalidCriterion, issue.Criterion, issue.Message)
			}
			return fmt.Errorf("%w: %s", ErrInvalidCriterion, issue.Message)
		}
	}

	for i, c := range rs.Criteria {
		if err := validateCriterion(i, c); err != nil {
			return err
		}
	}
	return nil
}

func validateCriterion(i int, c Criterion) error {
	if c.Field == "" {
		return fmt.Errorf("%w: criteria[%d] field must not be empty", ErrInvalidCriterion, i)
	}

	if !c.Operator.Valid() {
		return fmt.Errorf("%w: criteria[%d] operator %q is not supported", ErrInvalidOperator, i, c.Operator)
	}

	switch c.Value.kind {
	case KindAbsent, KindUnsupported:
		return fmt.Errorf("%w: criteria[%d] value must be a number, boolean or string", ErrInvalidValue, i)
	case KindInvalidRelative:
		return fmt.Errorf("%w: criteria[%d] %q is not relative_<days>", ErrInvalidValue, i, c.Value.str)
	case KindRelativeDate:
		if c.Field == FieldLastOrderDate && c.Operator != OpLT && c.Operator != OpGT {
			return fmt.Errorf("%w: criteria[%d] relative dates support only lt and gt", ErrInvalidOperator, i)
		}
	}
	return nil
}
