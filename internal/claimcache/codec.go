package claimcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rcourtman/claimguard/pkg/ensure"
)

// The cached payload keeps value types explicit so an int64 claim never
// comes back as a float.
type encodedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type encodedProduct struct {
	OK     bool                    `json:"ok"`
	Claims map[string]encodedValue `json:"claims"`
}

type encodedSet struct {
	Products map[string]encodedProduct `json:"products"`
}

// Encode serializes the products of set. Trust and fetch time are stored
// alongside the payload, not in it.
func Encode(set *ensure.ClaimSet) ([]byte, error) {
	out := encodedSet{Products: make(map[string]encodedProduct, len(set.Products))}
	for _, name := range set.ProductNames() {
		p := set.Products[name]
		claims := make(map[string]encodedValue, len(p.Claims))
		for key, v := range p.Claims {
			raw, err := json.Marshal(v.Interface())
			if err != nil {
				return nil, fmt.Errorf("encode claim %s/%s: %w", name, key, err)
			}
			claims[key] = encodedValue{Type: v.Type().String(), Value: raw}
		}
		out.Products[name] = encodedProduct{OK: p.OK, Claims: claims}
	}
	return json.Marshal(out)
}

// Decode is the inverse of Encode.
func Decode(payload []byte) (*ensure.ClaimSet, error) {
	var in encodedSet
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("decode cached claim set: %w", err)
	}

	names := make([]string, 0, len(in.Products))
	for name := range in.Products {
		names = append(names, name)
	}
	sort.Strings(names)

	set := ensure.NewClaimSet()
	for _, name := range names {
		p := in.Products[name]
		claims := make(map[string]ensure.Value, len(p.Claims))
		for key, ev := range p.Claims {
			v, err := decodeValue(ev)
			if err != nil {
				return nil, fmt.Errorf("decode claim %s/%s: %w", name, key, err)
			}
			claims[key] = v
		}
		set.AddProduct(name, p.OK, claims)
	}
	return set, nil
}

func decodeValue(ev encodedValue) (ensure.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(ev.Value))
	dec.UseNumber()

	switch ev.Type {
	case ensure.TypeBool.String():
		var b bool
		if err := dec.Decode(&b); err != nil {
			return ensure.Value{}, err
		}
		return ensure.BoolValue(b), nil
	case ensure.TypeString.String():
		var s string
		if err := dec.Decode(&s); err != nil {
			return ensure.Value{}, err
		}
		return ensure.StringValue(s), nil
	case ensure.TypeInt64.String():
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return ensure.Value{}, err
		}
		i, err := n.Int64()
		if err != nil {
			return ensure.Value{}, err
		}
		return ensure.Int64Value(i), nil
	case ensure.TypeFloat64.String():
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return ensure.Value{}, err
		}
		f, err := n.Float64()
		if err != nil {
			return ensure.Value{}, err
		}
		return ensure.Float64Value(f), nil
	case ensure.TypeStringSet.String():
		var members []string
		if err := dec.Decode(&members); err != nil {
			return ensure.Value{}, err
		}
		return ensure.StringSetValue(members...), nil
	default:
		return ensure.Value{}, fmt.Errorf("unknown value type %q", ev.Type)
	}
}
