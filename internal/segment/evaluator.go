package segment

import (
	"fmt"
	"time"

	"github.com/sourcegraph/conc/iter"
	"github.com/sumanism/ECA2/internal/store"
)

// Clock provides the evaluation instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Evaluator filters users against rule sets. It holds no per-call state and
// is safe for concurrent use.
type Evaluator struct {
	clock      Clock
	workers    int
	minRecords int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(e *Evaluator) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithParallelism evaluates records on up to workers goroutines once a call
// has at least minRecords records. workers <= 1 keeps evaluation sequential.
func WithParallelism(workers, minRecords int) Option {
	return func(e *Evaluator) {
		e.workers = workers
		e.minRecords = minRecords
	}
}

// NewEvaluator returns a sequential evaluator on the system clock unless
// options say otherwise.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{clock: systemClock{}, workers: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of evaluating one rule set over a user snapshot.
type Result struct {
	// Matches is the ordered subsequence of the input that matched.
	Matches []store.User
	// Evaluated is the number of users considered.
	Evaluated int
	Criteria  []CriterionReport
	// Issues holds rule-set level diagnostics: normalization problems and
	// criteria that can never pass.
	Issues []Issue
}

// Count is the number of matching users.
func (r Result) Count() int { return len(r.Matches) }

type outcome struct {
	passed bool
	issue  IssueCode
}

type check func(u *store.User) outcome

type recordOutcome struct {
	match    bool
	criteria []outcome
}

// Evaluate runs rs over users. The clock is read once per call.
func (e *Evaluator) Evaluate(rs RuleSet, users []store.User) Result {
	now := e.clock.Now().UTC()

	res := Result{
		Evaluated: len(users),
		Criteria:  make([]CriterionReport, len(rs.Criteria)),
		Issues:    append([]Issue(nil), rs.Issues...),
	}

	checks := make([]check, len(rs.Criteria))
	for i, c := range rs.Criteria {
		res.Criteria[i] = CriterionReport{Index: i, Criterion: c}
		var static *Issue
		checks[i], static = compile(c, now)
		if static != nil {
			static.Criterion = i
			res.Issues = append(res.Issues, *static)
		}
	}

	or := rs.LogicalOperator == Or
	evalOne := func(u *store.User) recordOutcome {
		out := recordOutcome{criteria: make([]outcome, len(checks))}
		if len(checks) == 0 {
			out.match = !or
			return out
		}
		anyPassed, allPassed := false, true
		for i, chk := range checks {
			o := chk(u)
			out.criteria[i] = o
			anyPassed = anyPassed || o.passed
			allPassed = allPassed && o.passed
		}
		if or {
			out.match = anyPassed
		} else {
			out.match = allPassed
		}
		return out
	}

	var outcomes []recordOutcome
	if e.workers > 1 && len(users) >= e.minRecords {
		mapper := iter.Mapper[store.User, recordOutcome]{MaxGoroutines: e.workers}
		outcomes = mapper.Map(users, evalOne)
	} else {
		outcomes = make([]recordOutcome, len(users))
		for i := range users {
			outcomes[i] = evalOne(&users[i])
		}
	}

	for i, out := range outcomes {
		if out.match {
			res.Matches = append(res.Matches, users[i])
		}
		for j, o := range out.criteria {
			rep := &res.Criteria[j]
			if o.passed {
				rep.Passed++
				continue
			}
			rep.Failed++
			if o.issue != "" {
				if rep.Issues == nil {
					rep.Issues = make(map[IssueCode]int)
				}
				rep.Issues[o.issue]++
			}
		}
	}
	return res
}

// Filter returns the matching users in input order.
func (e *Evaluator) Filter(rs RuleSet, users []store.User) []store.User {
	return e.Evaluate(rs, users).Matches
}

// Count returns how many users match.
func (e *Evaluator) Count(rs RuleSet, users []store.User) int {
	return e.Evaluate(rs, users).Count()
}

func fail(code IssueCode) check {
	return func(*store.User) outcome { return outcome{issue: code} }
}

// compile resolves everything about a criterion that does not depend on the
// record. A non-nil Issue means the criterion can never pass.
func compile(c Criterion, now time.Time) (check, *Issue) {
	if !c.Operator.Valid() {
		return fail(IssueUnsupportedOperator), &Issue{
			Code:    IssueUnsupportedOperator,
			Field:   c.Field,
			Message: fmt.Sprintf("operator %q is not one of gt, lt, gte, lte, eq, contains", c.Operator),
		}
	}

	switch c.Value.kind {
	case KindAbsent, KindUnsupported:
		return fail(IssueUnsupportedValue), &Issue{
			Code:    IssueUnsupportedValue,
			Field:   c.Field,
			Message: "value must be a number, boolean or string",
		}
	case KindInvalidRelative:
		return fail(IssueInvalidRelativeDate), &Issue{
			Code:    IssueInvalidRelativeDate,
			Field:   c.Field,
			Message: fmt.Sprintf("%q is not relative_<days>", c.Value.str),
		}
	}

	if c.Field == FieldLastOrderDate && c.Value.kind == KindRelativeDate {
		return compileRelative(c, now)
	}

	field, op, val := c.Field, c.Operator, c.Value
	return func(u *store.User) outcome {
		rec, ok := resolve(u, field, now)
		if !ok {
			return outcome{issue: IssueMissingField}
		}
		passed, issue := compare(op, rec, val)
		return outcome{passed: passed, issue: issue}
	}, nil
}

// compileRelative handles last_order_date against "relative_N": lt means
// more recent than N days ago, gt means older.
func compileRelative(c Criterion, now time.Time) (check, *Issue) {
	cutoff := relativeCutoff(now, c.Value.days)
	switch c.Operator {
	case OpLT:
		return func(u *store.User) outcome {
			return outcome{passed: effectiveLastOrder(u).After(cutoff)}
		}, nil
	case OpGT:
		return func(u *store.User) outcome {
			return outcome{passed: effectiveLastOrder(u).Before(cutoff)}
		}, nil
	}
	return fail(IssueUnsupportedRelativeOperator), &Issue{
		Code:    IssueUnsupportedRelativeOperator,
		Field:   c.Field,
		Message: fmt.Sprintf("relative dates support only lt and gt, not %q", c.Operator),
	}
}

// relativeCutoff returns now minus days, floored at the never-ordered
// sentinel so huge tokens cannot wrap around.
func relativeCutoff(now time.Time, days int) time.Time {
	earliest := time.Time{}
	// a year never has more than 366 days, so this bound stays below overflow
	if days > (now.Year()-earliest.Year()+1)*366 {
		return earliest
	}
	cutoff := now.AddDate(0, 0, -days)
	if cutoff.Before(earliest) {
		return earliest
	}
	return cutoff
}
