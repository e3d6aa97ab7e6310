package source

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/rcourtman/claimguard/pkg/ensure"
)

// ErrMalformedDocument is returned for claim documents that cannot be
// turned into a claim set.
var ErrMalformedDocument = errors.New("malformed claim document")

// DocumentVersion is the only claim document version understood.
const DocumentVersion = 1

type document struct {
	Version  int                        `yaml:"version"`
	Products map[string]documentProduct `yaml:"products"`
}

type documentProduct struct {
	OK     bool                   `yaml:"ok"`
	Claims map[string]interface{} `yaml:"claims"`
}

// ParseDocument decodes a YAML or JSON claim document:
//
//	version: 1
//	products:
//	  app:
//	    ok: true
//	    claims:
//	      seats: 10
//	      regions: [eu-west, us-east]
//
// A non-nil product keeps only that product.
func ParseDocument(data []byte, product *string) (*ensure.ClaimSet, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if doc.Version != 0 && doc.Version != DocumentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedDocument, doc.Version)
	}

	names := make([]string, 0, len(doc.Products))
	for name := range doc.Products {
		names = append(names, name)
	}
	sort.Strings(names)

	set := ensure.NewClaimSet()
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: empty product name", ErrMalformedDocument)
		}
		if product != nil && name != *product {
			continue
		}
		p := doc.Products[name]
		claims := make(map[string]ensure.Value, len(p.Claims))
		for key, raw := range p.Claims {
			v, err := ensure.ParseValue(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: product %q claim %q: %v", ErrMalformedDocument, name, key, err)
			}
			claims[key] = v
		}
		set.AddProduct(name, p.OK, claims)
	}
	return set, nil
}
