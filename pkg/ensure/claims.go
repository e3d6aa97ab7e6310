package ensure

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ValueType identifies the stored type of a claim value.
type ValueType int

const (
	TypeBool ValueType = iota + 1
	TypeString
	TypeInt64
	TypeFloat64
	TypeStringSet
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeStringSet:
		return "stringSet"
	default:
		return "unknown"
	}
}

// Value is an immutable typed claim value.
type Value struct {
	typ ValueType
	b   bool
	s   string
	i   int64
	f   float64
	set []string
}

func BoolValue(v bool) Value       { return Value{typ: TypeBool, b: v} }
func StringValue(v string) Value   { return Value{typ: TypeString, s: v} }
func Int64Value(v int64) Value     { return Value{typ: TypeInt64, i: v} }
func Float64Value(v float64) Value { return Value{typ: TypeFloat64, f: v} }

// StringSetValue copies and sorts v, dropping duplicates.
func StringSetValue(v ...string) Value {
	set := make([]string, 0, len(v))
	seen := make(map[string]struct{}, len(v))
	for _, s := range v {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		set = append(set, s)
	}
	sort.Strings(set)
	return Value{typ: TypeStringSet, set: set}
}

func (v Value) Type() ValueType { return v.typ }

func (v Value) Bool() (bool, bool)       { return v.b, v.typ == TypeBool }
func (v Value) Str() (string, bool)      { return v.s, v.typ == TypeString }
func (v Value) Int64() (int64, bool)     { return v.i, v.typ == TypeInt64 }
func (v Value) Float64() (float64, bool) { return v.f, v.typ == TypeFloat64 }

// StringSet returns a copy of the set members.
func (v Value) StringSet() ([]string, bool) {
	if v.typ != TypeStringSet {
		return nil, false
	}
	out := make([]string, len(v.set))
	copy(out, v.set)
	return out, true
}

// Contains reports set membership. It is false for non-set values.
func (v Value) Contains(member string) bool {
	if v.typ != TypeStringSet {
		return false
	}
	i := sort.SearchStrings(v.set, member)
	return i < len(v.set) && v.set[i] == member
}

// Interface returns the value as a plain Go value for encoding.
func (v Value) Interface() interface{} {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeString:
		return v.s
	case TypeInt64:
		return v.i
	case TypeFloat64:
		return v.f
	case TypeStringSet:
		out, _ := v.StringSet()
		return out
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.typ {
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeString:
		return strconv.Quote(v.s)
	case TypeInt64:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeStringSet:
		quoted := make([]string, len(v.set))
		for i, s := range v.set {
			quoted[i] = strconv.Quote(s)
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	default:
		return "<invalid>"
	}
}

// Product is the claim set of a single product.
type Product struct {
	Name   string
	OK     bool
	Claims map[string]Value
}

// ClaimSet is one retrieved set of product claims. A ClaimSet is never
// mutated after it has been handed to a Store.
type ClaimSet struct {
	Products  map[string]*Product
	Trusted   bool
	Offline   bool
	FetchedAt time.Time
}

// NewClaimSet returns an empty set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{Products: make(map[string]*Product)}
}

// AddProduct inserts or replaces a product.
func (cs *ClaimSet) AddProduct(name string, ok bool, claims map[string]Value) *Product {
	if cs.Products == nil {
		cs.Products = make(map[string]*Product)
	}
	copied := make(map[string]Value, len(claims))
	for k, v := range claims {
		copied[k] = v
	}
	p := &Product{Name: name, OK: ok, Claims: copied}
	cs.Products[name] = p
	return p
}

// Clone returns a deep copy.
func (cs *ClaimSet) Clone() *ClaimSet {
	if cs == nil {
		return nil
	}
	out := &ClaimSet{
		Products:  make(map[string]*Product, len(cs.Products)),
		Trusted:   cs.Trusted,
		Offline:   cs.Offline,
		FetchedAt: cs.FetchedAt,
	}
	for name, p := range cs.Products {
		if p == nil {
			continue
		}
		out.AddProduct(name, p.OK, p.Claims)
	}
	return out
}

// ProductNames returns the product names in sorted order.
func (cs *ClaimSet) ProductNames() []string {
	if cs == nil {
		return nil
	}
	names := make([]string, 0, len(cs.Products))
	for name := range cs.Products {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dump returns a JSON-friendly representation of the set.
func (cs *ClaimSet) Dump() map[string]interface{} {
	products := make(map[string]interface{})
	if cs == nil {
		return map[string]interface{}{"products": products}
	}
	for name, p := range cs.Products {
		claims := make(map[string]interface{}, len(p.Claims))
		for k, v := range p.Claims {
			claims[k] = v.Interface()
		}
		products[name] = map[string]interface{}{
			"ok":     p.OK,
			"claims": claims,
		}
	}
	return map[string]interface{}{
		"trusted":  cs.Trusted,
		"offline":  cs.Offline,
		"products": products,
	}
}

// ParseValue builds a Value from a decoded document node. Integral numbers
// become int64, other numbers float64 and string lists a string set.
func ParseValue(raw interface{}) (Value, error) {
	switch v := raw.(type) {
	case bool:
		return BoolValue(v), nil
	case string:
		return StringValue(v), nil
	case int:
		return Int64Value(int64(v)), nil
	case int64:
		return Int64Value(v), nil
	case uint64:
		if v > 1<<63-1 {
			return Value{}, fmt.Errorf("integer %d overflows int64", v)
		}
		return Int64Value(int64(v)), nil
	case float64:
		return Float64Value(v), nil
	case []string:
		return StringSetValue(v...), nil
	case []interface{}:
		members := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("set member %d is %T, want string", i, item)
			}
			members = append(members, s)
		}
		return StringSetValue(members...), nil
	default:
		return Value{}, fmt.Errorf("unsupported claim value type %T", raw)
	}
}
