package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/10d3/nexora/internal/record"
)

//go:embed entities.cue
var entitiesCUE string

// Kind names a mirrored collection.
type Kind string

const (
	KindUser             Kind = "user"
	KindTenant           Kind = "tenant"
	KindCustomerProfile  Kind = "customer_profile"
	KindProject          Kind = "project"
	KindTask             Kind = "task"
	KindAsset            Kind = "asset"
	KindOrder            Kind = "order"
	KindOrderItem        Kind = "order_item"
	KindCategory         Kind = "category"
	KindProduct          Kind = "product"
	KindSite             Kind = "site"
	KindMember           Kind = "member"
	KindInvitation       Kind = "invitation"
	KindSubscriptionPlan Kind = "subscription_plan"
	KindSettings         Kind = "settings"
)

// FieldType is the declared type of an attribute.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeBool   FieldType = "bool"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
)

// Index is a declared secondary index. Fields are record JSON keys; the
// reserved keys (tenantId, createdAt, ...) address record columns.
type Index struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// Collection describes one mirrored kind.
type Collection struct {
	Kind         Kind                 `json:"-"`
	Entity       string               `json:"entity"`
	Definition   string               `json:"definition"`
	TenantScoped bool                 `json:"tenantScoped"`
	SortKey      []string             `json:"sortKey"`
	Indices      []Index              `json:"indices"`
	Fields       map[string]FieldType `json:"fields"`
	Required     []string             `json:"required"`

	// fieldOrder is the declaration order of the CUE definition's fields,
	// used to pick the first violated constraint deterministically.
	fieldOrder map[string]int
}

// Index returns the declared index with the given name.
func (c *Collection) Index(name string) (Index, bool) {
	for _, idx := range c.Indices {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// Registry holds every compiled collection.
type Registry struct {
	mu       sync.Mutex // guards ctx and root; CUE values are not safe for concurrent use
	ctx      *cue.Context
	root     cue.Value
	byKind   map[Kind]*Collection
	byEntity map[string]*Collection
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	return Compile(entitiesCUE)
})

// Default returns the registry compiled from the embedded entity document.
func Default() (*Registry, error) {
	return defaultRegistry()
}

// MustDefault is Default for callers that treat a broken embedded schema as
// a programming error.
func MustDefault() *Registry {
	reg, err := Default()
	if err != nil {
		panic(err)
	}
	return reg
}

// Compile builds a registry from CUE source.
func Compile(src string) (*Registry, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(src, cue.Filename("entities.cue"))
	if err := root.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	collections := root.LookupPath(cue.ParsePath("collections"))
	if !collections.Exists() {
		return nil, &CompileError{Field: "collections", Message: "collections is required"}
	}

	reg := &Registry{
		ctx:      ctx,
		root:     root,
		byKind:   make(map[Kind]*Collection),
		byEntity: make(map[string]*Collection),
	}

	iter, err := collections.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		kind := Kind(iter.Label())
		coll, err := compileCollection(root, kind, iter.Value())
		if err != nil {
			return nil, err
		}
		if _, dup := reg.byEntity[coll.Entity]; dup {
			return nil, &CompileError{Field: string(kind), Message: fmt.Sprintf("entity name %q declared twice", coll.Entity)}
		}
		reg.byKind[kind] = coll
		reg.byEntity[coll.Entity] = coll
	}
	return reg, nil
}

func compileCollection(root cue.Value, kind Kind, v cue.Value) (*Collection, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	coll := &Collection{}
	if err := json.Unmarshal(data, coll); err != nil {
		return nil, fmt.Errorf("collection %s: %w", kind, err)
	}
	coll.Kind = kind

	if coll.Entity == "" {
		return nil, &CompileError{Field: string(kind) + ".entity", Message: "entity is required"}
	}
	for _, f := range coll.SortKey {
		if !fieldNamePattern.MatchString(f) {
			return nil, &CompileError{Field: string(kind) + ".sortKey", Message: fmt.Sprintf("invalid field name %q", f)}
		}
	}
	for _, idx := range coll.Indices {
		if !fieldNamePattern.MatchString(idx.Name) || len(idx.Fields) == 0 {
			return nil, &CompileError{Field: string(kind) + ".indices", Message: fmt.Sprintf("invalid index %q", idx.Name)}
		}
		for _, f := range idx.Fields {
			if !fieldNamePattern.MatchString(f) {
				return nil, &CompileError{Field: string(kind) + ".indices." + idx.Name, Message: fmt.Sprintf("invalid field name %q", f)}
			}
		}
	}
	for name, typ := range coll.Fields {
		switch typ {
		case TypeString, TypeInt, TypeBool, TypeArray, TypeObject:
		default:
			return nil, &CompileError{Field: string(kind) + ".fields." + name, Message: fmt.Sprintf("unknown type %q", typ)}
		}
	}

	def := root.LookupPath(cue.ParsePath(coll.Definition))
	if !def.Exists() {
		return nil, &CompileError{Field: string(kind) + ".definition", Message: fmt.Sprintf("definition %s not found", coll.Definition)}
	}
	coll.fieldOrder = make(map[string]int)
	fields, err := def.Fields(cue.Optional(true))
	if err != nil {
		return nil, formatCUEError(err)
	}
	for i := 0; fields.Next(); i++ {
		coll.fieldOrder[fields.Label()] = i
	}
	return coll, nil
}

// Lookup returns the collection for a kind.
func (r *Registry) Lookup(kind Kind) (*Collection, bool) {
	c, ok := r.byKind[kind]
	return c, ok
}

// ByEntity returns the collection whose action entity name is given.
func (r *Registry) ByEntity(entity string) (*Collection, bool) {
	c, ok := r.byEntity[entity]
	return c, ok
}

// Kinds lists every registered kind in lexical order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Check verifies the structural shape of a record for this collection.
func (c *Collection) Check(rec record.Record) error {
	if rec.ID == "" {
		return &ValidationError{Kind: c.Kind, Field: record.KeyID, Message: "id is required"}
	}
	if c.TenantScoped && rec.TenantID == "" {
		return &ValidationError{Kind: c.Kind, Field: record.KeyTenantID, Message: "tenant scope is required"}
	}
	for _, name := range c.Required {
		v, ok := rec.Attrs[name]
		if !ok {
			return &ValidationError{Kind: c.Kind, Field: name, Message: "field is required"}
		}
		if _, isNull := v.(record.Null); isNull {
			return &ValidationError{Kind: c.Kind, Field: name, Message: "field is required"}
		}
	}
	for _, name := range rec.Attrs.SortedKeys() {
		want, declared := c.Fields[name]
		if !declared {
			continue
		}
		v := rec.Attrs[name]
		if _, isNull := v.(record.Null); isNull {
			continue
		}
		if got := record.TypeName(v); got != string(want) {
			return &ValidationError{Kind: c.Kind, Field: name, Message: fmt.Sprintf("expected %s, got %s", want, got)}
		}
	}
	return nil
}
