package scope

// Account fields a scope may constrain. Stores translate these into their own
// column or struct-field access.
const (
	FieldID           = "id"
	FieldRoleID       = "role_id"
	FieldClientID     = "client_id"
	FieldDepartmentID = "department_id"
	FieldActive       = "active"
	FieldExists       = "exists"
)

// Op is a predicate operator.
type Op int

const (
	OpEq Op = iota
	OpIn
)

// Predicate is one field constraint.
type Predicate struct {
	Field  string
	Op     Op
	Values []any
}

// ConstraintSet is an immutable conjunction of predicates. Every With* call
// returns a new set, so a partially-built scope can never leak into another
// query. A set that matches nothing stays that way no matter what is added.
type ConstraintSet struct {
	preds []Predicate
	none  bool
}

// Unrestricted returns the empty conjunction, which matches every record.
func Unrestricted() ConstraintSet {
	return ConstraintSet{}
}

// MatchNone returns the deliberately-unsatisfiable set. Used wherever a rule
// cannot be evaluated confidently: fail closed, never fail open.
func MatchNone() ConstraintSet {
	return ConstraintSet{none: true}
}

// WithEq adds an equality predicate.
func (c ConstraintSet) WithEq(field string, value any) ConstraintSet {
	if c.none {
		return c
	}
	return ConstraintSet{preds: appendPred(c.preds, Predicate{Field: field, Op: OpEq, Values: []any{value}})}
}

// WithIn adds a membership predicate. An empty value set is unsatisfiable.
func (c ConstraintSet) WithIn(field string, values ...any) ConstraintSet {
	if c.none {
		return c
	}
	if len(values) == 0 {
		return MatchNone()
	}
	vs := make([]any, len(values))
	copy(vs, values)
	return ConstraintSet{preds: appendPred(c.preds, Predicate{Field: field, Op: OpIn, Values: vs})}
}

// MatchesNothing reports whether the set is unsatisfiable.
func (c ConstraintSet) MatchesNothing() bool {
	return c.none
}

// Predicates returns a copy of the predicate list.
func (c ConstraintSet) Predicates() []Predicate {
	out := make([]Predicate, len(c.preds))
	copy(out, c.preds)
	return out
}

// Matches evaluates the set against a record exposed through a field getter.
// Used by in-memory stores; SQL stores translate Predicates instead.
func (c ConstraintSet) Matches(get func(field string) any) bool {
	if c.none {
		return false
	}
	for _, p := range c.preds {
		v := get(p.Field)
		switch p.Op {
		case OpEq:
			if v != p.Values[0] {
				return false
			}
		case OpIn:
			found := false
			for _, want := range p.Values {
				if v == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func appendPred(preds []Predicate, p Predicate) []Predicate {
	out := make([]Predicate, len(preds), len(preds)+1)
	copy(out, preds)
	return append(out, p)
}
