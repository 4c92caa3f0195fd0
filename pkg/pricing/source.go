package pricing

import (
	"errors"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/rafitos77/vipgate/pkg/entitlement"
)

// Region holds the raw prices of one pricing region in minor units.
type Region struct {
	Currency string
	Plans    map[entitlement.PlanType]int64
}

// Source defines how pricing regions are loaded into a Table.
type Source interface {
	Load() (map[string]Region, error)
}

type staticSource struct {
	regions map[string]Region
}

// NewStaticSource returns the built-in regional price list.
func NewStaticSource() Source {
	return &staticSource{regions: map[string]Region{
		"en": {
			Currency: "USD",
			Plans: map[entitlement.PlanType]int64{
				entitlement.PlanWeekly:   500,
				entitlement.PlanMonthly:  1400,
				entitlement.PlanLifetime: 2500,
			},
		},
		"pt": {
			Currency: "BRL",
			Plans: map[entitlement.PlanType]int64{
				entitlement.PlanWeekly:   990,
				entitlement.PlanMonthly:  2990,
				entitlement.PlanLifetime: 5990,
			},
		},
		"es": {
			Currency: "USD",
			Plans: map[entitlement.PlanType]int64{
				entitlement.PlanWeekly:   199,
				entitlement.PlanMonthly:  599,
				entitlement.PlanLifetime: 1299,
			},
		},
	}}
}

func (s *staticSource) Load() (map[string]Region, error) {
	regions := make(map[string]Region, len(s.regions))
	for key, region := range s.regions {
		plans := make(map[entitlement.PlanType]int64, len(region.Plans))
		for plan, amount := range region.Plans {
			plans[plan] = amount
		}
		regions[key] = Region{Currency: region.Currency, Plans: plans}
	}
	return regions, nil
}

type yamlSource struct {
	fsys fs.FS
	path string
}

// NewYAMLSource loads pricing regions from a YAML file, letting operators
// adjust prices without a rebuild. Expected shape:
//
//	regions:
//	  en:
//	    currency: USD
//	    weekly: 500
//	    monthly: 1400
//	    lifetime: 2500
func NewYAMLSource(fsys fs.FS, path string) Source {
	return &yamlSource{fsys: fsys, path: path}
}

func (s *yamlSource) Load() (map[string]Region, error) {
	raw, err := fs.ReadFile(s.fsys, s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPricing, err)
	}

	var doc struct {
		Regions map[string]struct {
			Currency string `yaml:"currency"`
			Weekly   int64  `yaml:"weekly"`
			Monthly  int64  `yaml:"monthly"`
			Lifetime int64  `yaml:"lifetime"`
		} `yaml:"regions"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPricing, err)
	}
	if len(doc.Regions) == 0 {
		return nil, fmt.Errorf("%w: no regions in %s", ErrInvalidPricing, s.path)
	}

	regions := make(map[string]Region, len(doc.Regions))
	for key, r := range doc.Regions {
		regions[key] = Region{
			Currency: r.Currency,
			Plans: map[entitlement.PlanType]int64{
				entitlement.PlanWeekly:   r.Weekly,
				entitlement.PlanMonthly:  r.Monthly,
				entitlement.PlanLifetime: r.Lifetime,
			},
		}
	}
	return regions, nil
}
