package utils

import (
	"strconv"
	"strings"
)

// Predicate operators
const (
	OpEquals    = "equals"     // variable must equal Value
	OpMinAmount = "min_amount" // variable parsed as number must be >= Value
	OpOneOf     = "one_of"     // variable must appear in Values
)

// Well-known variable keys injected by the event pipeline
const (
	VarTriggerEvent   = "trigger_event"
	VarSourcePlatform = "source_platform"
	VarCustomerEmail  = "customer_email"
	VarCustomerName   = "customer_name"
)

// Predicate is one condition against an event variable
type Predicate struct {
	Field  string   `json:"field"`
	Op     string   `json:"op"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// ConditionSet groups predicates; all must hold. An empty set means
// "no constraint".
type ConditionSet []Predicate

// Evaluate checks every predicate against the variable map. Unknown
// operators and malformed numeric operands fail closed.
func (cs ConditionSet) Evaluate(variables map[string]string) bool {
	for _, p := range cs {
		if !p.matches(variables) {
			return false
		}
	}
	return true
}

func (p Predicate) matches(variables map[string]string) bool {
	value := variables[p.Field]

	switch p.Op {
	case OpEquals:
		return value == p.Value

	case OpMinAmount:
		amount, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return false
		}
		minimum, err := strconv.ParseFloat(strings.TrimSpace(p.Value), 64)
		if err != nil {
			return false
		}
		return amount >= minimum

	case OpOneOf:
		for _, candidate := range p.Values {
			if value == candidate {
				return true
			}
		}
		return false

	default:
		return false
	}
}
