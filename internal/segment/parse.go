package segment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotObject is returned by Parse when a definition is not a JSON object.
var ErrNotObject = errors.New("segment definition must be a JSON object")

const (
	keyLogicalOperator = "logical_operator"
	keyCriteria        = "criteria"
)

// member is one key/value pair of a JSON object, in document order.
type member struct {
	key string
	raw json.RawMessage
}

// Parse normalizes a persisted definition into a RuleSet. Canonical criteria
// win; otherwise legacy {"field": {"op": value}} entries are expanded in
// document order. Anomalies are recorded on RuleSet.Issues rather than
// returned as errors.
func Parse(definition []byte) (RuleSet, error) {
	rs := RuleSet{LogicalOperator: And, Criteria: []Criterion{}}

	if len(bytes.TrimSpace(definition)) == 0 {
		return rs, nil
	}

	members, err := objectMembers(definition)
	if err != nil {
		return RuleSet{}, err
	}

	var legacy []member
	for _, m := range members {
		switch m.key {
		case keyLogicalOperator:
			rs.LogicalOperator, rs.Issues = parseLogicalOperator(m.raw, rs.Issues)
		case keyCriteria:
			rs.Criteria, rs.Issues = parseCriteria(m.raw, rs.Issues)
		default:
			legacy = append(legacy, m)
		}
	}

	if len(rs.Criteria) == 0 {
		rs.Criteria, rs.Issues = expandLegacy(legacy, rs.Issues)
	}
	if rs.Criteria == nil {
		rs.Criteria = []Criterion{}
	}
	return rs, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(definition string) RuleSet {
	rs, err := Parse([]byte(definition))
	if err != nil {
		panic(err)
	}
	return rs
}

// objectMembers decodes a JSON object keeping key order, which a map would lose.
func objectMembers(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrNotObject
	}

	var members []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, ErrNotObject
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrNotObject, key, err)
		}
		members = append(members, member{key: key, raw: raw})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrNotObject)
	}
	return members, nil
}

func parseLogicalOperator(raw json.RawMessage, issues []Issue) (LogicalOperator, []Issue) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch LogicalOperator(s) {
		case Or:
			return Or, issues
		case And:
			return And, issues
		}
	}
	return And, append(issues, Issue{
		Code:      IssueUnknownLogicalOperator,
		Criterion: -1,
		Message:   fmt.Sprintf("logical_operator %s is not AND or OR; using AND", string(raw)),
	})
}

type wireCriterion struct {
	Field    string          `json:"field"`
	Operator Operator        `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

func parseCriteria(raw json.RawMessage, issues []Issue) ([]Criterion, []Issue) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, append(issues, Issue{
			Code:      IssueUnsupportedValue,
			Criterion: -1,
			Message:   "criteria must be an array",
		})
	}

	criteria := make([]Criterion, 0, len(entries))
	for i, entry := range entries {
		var wc wireCriterion
		if err := json.Unmarshal(entry, &wc); err != nil {
			// Kept as a criterion that can never pass.
			criteria = append(criteria, Criterion{})
			issues = append(issues, Issue{
				Code:      IssueUnsupportedValue,
				Criterion: i,
				Message:   fmt.Sprintf("criterion is not a {field, operator, value} object: %v", err),
			})
			continue
		}
		criteria = append(criteria, Criterion{
			Field:    wc.Field,
			Operator: wc.Operator,
			Value:    ParseValue(wc.Value),
		})
	}
	return criteria, issues
}

func expandLegacy(entries []member, issues []Issue) ([]Criterion, []Issue) {
	var criteria []Criterion
	for _, e := range entries {
		ops, err := objectMembers(e.raw)
		if err != nil {
			issues = append(issues, Issue{
				Code:      IssueMalformedLegacyEntry,
				Criterion: -1,
				Field:     e.key,
				Message:   fmt.Sprintf("legacy entry %q must map operators to values", e.key),
			})
			continue
		}
		for _, op := range ops {
			criteria = append(criteria, Criterion{
				Field:    e.key,
				Operator: Operator(op.key),
				Value:    ParseValue(op.raw),
			})
		}
	}
	return criteria, issues
}
