package coverage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownDomain is returned when a domain name, code or object spec does
// not match any configured domain.
var ErrUnknownDomain = errors.New("unknown domain")

// Domain is a measurement domain whose raw data files are tracked together.
type Domain struct {
	Name        string      `json:"name" mapstructure:"name"`
	Code        string      `json:"code" mapstructure:"code"`
	ObjectSpecs []string    `json:"objectSpecs" mapstructure:"object_specs"`
	Rule        StationRule `json:"stationRule" mapstructure:"station_rule"`
}

// DefaultDomains returns the atmosphere and ecosystem domains with their
// raw-data object specifications.
func DefaultDomains() []Domain {
	return []Domain{
		{
			Name: "atmosphere",
			Code: "atc",
			ObjectSpecs: []string{
				"http://meta.icos-cp.eu/resources/cpmeta/atcLosGatosL0DataObject",
				"http://meta.icos-cp.eu/resources/cpmeta/atcPicarroL0DataObject",
			},
			Rule: StationRule{Delimiter: "_"},
		},
		{
			Name: "ecosystem",
			Code: "etc",
			ObjectSpecs: []string{
				"http://meta.icos-cp.eu/resources/cpmeta/etcEddyFluxRawSeriesCsv",
				"http://meta.icos-cp.eu/resources/cpmeta/etcEddyFluxRawSeriesBin",
			},
			Rule: StationRule{Delimiter: "_"},
		},
	}
}

// Registry resolves domains by name, code or object spec.
type Registry struct {
	domains []Domain
	byKey   map[string]int
	bySpec  map[string]int
}

// NewRegistry indexes domains. Names and codes are matched case-insensitively
// and must be unique.
func NewRegistry(domains []Domain) (*Registry, error) {
	r := &Registry{
		byKey:  make(map[string]int),
		bySpec: make(map[string]int),
	}
	for _, d := range domains {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, errors.New("domain name must not be empty")
		}
		if d.Rule.Delimiter == "" && d.Rule.PrefixLength <= 0 {
			return nil, fmt.Errorf("domain %q: station rule needs a delimiter or a prefix length", d.Name)
		}
		idx := len(r.domains)
		for _, key := range []string{d.Name, d.Code} {
			key = strings.ToLower(strings.TrimSpace(key))
			if key == "" {
				continue
			}
			if prev, ok := r.byKey[key]; ok && prev != idx {
				return nil, fmt.Errorf("duplicate domain key %q", key)
			}
			r.byKey[key] = idx
		}
		for _, spec := range d.ObjectSpecs {
			r.bySpec[normalizeSpec(spec)] = idx
		}
		r.domains = append(r.domains, d)
	}
	return r, nil
}

// Lookup resolves a domain by name or code.
func (r *Registry) Lookup(key string) (Domain, error) {
	if idx, ok := r.byKey[strings.ToLower(strings.TrimSpace(key))]; ok {
		return r.domains[idx], nil
	}
	return Domain{}, fmt.Errorf("%w: %q", ErrUnknownDomain, key)
}

// BySpec resolves the domain owning an object spec URI. Angle brackets
// around the URI are ignored.
func (r *Registry) BySpec(spec string) (Domain, error) {
	if idx, ok := r.bySpec[normalizeSpec(spec)]; ok {
		return r.domains[idx], nil
	}
	return Domain{}, fmt.Errorf("%w: no domain for object spec %q", ErrUnknownDomain, spec)
}

// Domains returns the configured domains sorted by name.
func (r *Registry) Domains() []Domain {
	out := make([]Domain, len(r.domains))
	copy(out, r.domains)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func normalizeSpec(spec string) string {
	return strings.Trim(strings.TrimSpace(spec), "<>")
}
