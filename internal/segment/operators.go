package segment

import (
	"cmp"
	"strings"
)

// compare applies op to a record value and a criterion value. Only the
// kind pairs enumerated below are comparable; everything else fails with
// IssueIncomparableTypes.
func compare(op Operator, rec, val Value) (bool, IssueCode) {
	if op == OpContains {
		return contains(rec, val), ""
	}

	if rec.kind == KindTimestamp || val.kind == KindTimestamp {
		rt, rok := rec.timeOf()
		vt, vok := val.timeOf()
		if !rok || !vok {
			return false, IssueIncomparableTypes
		}
		return ordered(op, rt.Compare(vt)), ""
	}

	switch {
	case rec.kind == KindNumber && val.kind == KindNumber:
		return ordered(op, cmp.Compare(rec.num, val.num)), ""

	case rec.kind == KindBool && val.kind == KindBool:
		if op != OpEQ {
			return false, IssueIncomparableTypes
		}
		return rec.b == val.b, ""
	}

	rs, rok := rec.stringLike()
	vs, vok := val.stringLike()
	if !rok || !vok {
		return false, IssueIncomparableTypes
	}
	if op == OpEQ {
		return rs == vs, ""
	}
	if rec.hasTime && val.hasTime {
		return ordered(op, rec.t.Compare(val.t)), ""
	}
	return ordered(op, strings.Compare(rs, vs)), ""
}

func ordered(op Operator, c int) bool {
	switch op {
	case OpGT:
		return c > 0
	case OpLT:
		return c < 0
	case OpGTE:
		return c >= 0
	case OpLTE:
		return c <= 0
	case OpEQ:
		return c == 0
	}
	return false
}

// contains is a case-insensitive substring test over the text of both sides.
func contains(rec, val Value) bool {
	return strings.Contains(strings.ToLower(rec.Text()), strings.ToLower(val.Text()))
}
