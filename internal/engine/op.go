package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// Verb is the kind of operation.
type Verb string

const (
	VerbFetch  Verb = "fetch"
	VerbGet    Verb = "get"
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
)

// Verbs lists the closed verb set.
var Verbs = []Verb{VerbFetch, VerbGet, VerbCreate, VerbUpdate, VerbDelete}

// Valid reports whether v is one of Verbs.
func (v Verb) Valid() bool {
	for _, known := range Verbs {
		if v == known {
			return true
		}
	}
	return false
}

// IsRead reports whether the verb only reads.
func (v Verb) IsRead() bool {
	return v == VerbFetch || v == VerbGet
}

var entityPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Op identifies an operation on an entity. Its string form is the action
// name persisted in the queue, e.g. "create_customer".
type Op struct {
	Verb   Verb
	Entity string
}

// NewOp builds an Op.
func NewOp(verb Verb, entity string) Op {
	return Op{Verb: verb, Entity: entity}
}

func (o Op) String() string {
	return string(o.Verb) + "_" + o.Entity
}

// IsRead reports whether the operation only reads.
func (o Op) IsRead() bool {
	return o.Verb.IsRead()
}

// Validate checks the verb and entity name.
func (o Op) Validate() error {
	if !o.Verb.Valid() {
		return &Error{Code: ErrCodeInvalidOperation, Op: o.String(), Message: fmt.Sprintf("unknown verb %q", o.Verb)}
	}
	if !entityPattern.MatchString(o.Entity) {
		return &Error{Code: ErrCodeInvalidOperation, Op: o.String(), Message: fmt.Sprintf("invalid entity name %q", o.Entity)}
	}
	return nil
}

// ParseOp parses an action name such as "create_order_item".
func ParseOp(name string) (Op, error) {
	verb, entity, ok := strings.Cut(name, "_")
	if !ok {
		return Op{}, &Error{Code: ErrCodeInvalidOperation, Op: name, Message: "expected {verb}_{entity}"}
	}
	op := Op{Verb: Verb(verb), Entity: entity}
	if err := op.Validate(); err != nil {
		return Op{}, err
	}
	return op, nil
}
