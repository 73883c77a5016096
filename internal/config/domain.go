package config

import (
	"fmt"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/quota"
)

// QuotaRules converts the quotas section into tracker overrides.
func (c *Config) QuotaRules() (map[action.Kind]quota.Rule, error) {
	rules := make(map[action.Kind]quota.Rule, len(c.Quotas))
	for name, q := range c.Quotas {
		kind, ok := action.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("quotas: unknown action kind %q", name)
		}
		rules[kind] = quota.Rule{
			Max:         q.Max,
			Window:      Duration(q.Window, 0),
			PerResource: q.PerResource,
		}
	}
	return rules, nil
}

// ScoreProfiles overlays the scores section onto defaults. Dimensions not
// named in the section keep their default value.
func (c *Config) ScoreProfiles(defaults map[action.Kind]action.ScoreVector) map[action.Kind]action.ScoreVector {
	out := make(map[action.Kind]action.ScoreVector, len(defaults))
	for kind, v := range defaults {
		out[kind] = v.Clone()
	}
	for name, dims := range c.Scores {
		kind, ok := action.ParseKind(name)
		if !ok {
			continue
		}
		v := out[kind]
		if v == nil {
			v = action.ScoreVector{}
		}
		for dim, value := range dims {
			v[dim] = value
		}
		out[kind] = v
	}
	return out
}
