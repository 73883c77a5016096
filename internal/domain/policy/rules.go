package policy

import (
	"strconv"
	"strings"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/quota"
)

// Section names looked up in policy documents.
const (
	SectionRateLimits        = "rate_limits"
	SectionForbiddenPatterns = "forbidden_patterns"
	SectionRoleBoundaries    = "role_boundaries"
	SectionContentLimits     = "content_limits"
	SectionDiscussionFormat  = "discussion_format"
	SectionActionFormats     = "action_formats"
	SectionRoutingThresholds = "routing_thresholds"
	SectionRoutingGuards     = "routing_guards"
)

// ForbiddenPattern is a content rule: any keyword appearing in the content
// rejects it.
type ForbiddenPattern struct {
	Description string
	Keywords    []string
}

// RoleBoundary restricts what the agent may assert in its own voice.
type RoleBoundary struct {
	ForbiddenWords []string
	// NoFinalTruth enables FinalTruthPatterns.
	NoFinalTruth       bool
	FinalTruthPatterns []string
}

// LengthBounds limits content length in characters. Zero means unbounded.
type LengthBounds struct {
	Min int
	Max int
}

// Rules is the typed view of a snapshot. A nil or empty field means the
// section is absent and the matching check passes.
type Rules struct {
	Quotas     map[action.Kind]quota.Rule
	Forbidden  []ForbiddenPattern
	Boundary   RoleBoundary
	Lengths    map[action.Kind]LengthBounds
	References map[action.Kind][]string
	// Thresholds holds router thresholds by dimension name.
	Thresholds map[string]float64
	// Guards holds a CEL expression per kind.
	Guards map[action.Kind]string
}

// ParseRules builds Rules from documents in lookup order. For every section
// the first document that declares it wins. Malformed sections are skipped.
func ParseRules(docs []Document) Rules {
	var r Rules

	if v, ok := lookup(docs, SectionRateLimits); ok {
		r.Quotas = parseQuotas(v)
	}
	if v, ok := lookup(docs, SectionForbiddenPatterns); ok {
		r.Forbidden = parseForbidden(v)
	}
	if v, ok := lookup(docs, SectionRoleBoundaries); ok {
		r.Boundary = parseBoundary(v)
	}

	r.Lengths = make(map[action.Kind]LengthBounds)
	if v, ok := lookup(docs, SectionContentLimits); ok {
		parseLengths(v, r.Lengths)
	}

	r.References = make(map[action.Kind][]string)
	if v, ok := lookup(docs, SectionDiscussionFormat); ok {
		if m, ok := v.(map[string]any); ok {
			if pats := stringList(m["required_patterns"]); len(pats) > 0 {
				r.References[action.KindComment] = pats
			}
			if limit, ok := toInt(m["max_length"]); ok && limit > 0 {
				b := r.Lengths[action.KindComment]
				if b.Max == 0 {
					b.Max = limit
					r.Lengths[action.KindComment] = b
				}
			}
		}
	}
	if v, ok := lookup(docs, SectionActionFormats); ok {
		if m, ok := v.(map[string]any); ok {
			for name, spec := range m {
				kind, _ := action.ParseKind(name)
				sm, ok := spec.(map[string]any)
				if !ok {
					continue
				}
				if pats := stringList(sm["required_patterns"]); len(pats) > 0 {
					r.References[kind] = pats
				}
			}
		}
	}

	r.Thresholds = make(map[string]float64)
	for _, dim := range []string{action.DimContinuity, action.DimNovelty, action.DimConflict, action.DimRisk} {
		if v, ok := lookup(docs, dim+"_threshold"); ok {
			if f, ok := toFloat(v); ok {
				r.Thresholds[dim] = f
			}
		}
	}
	if v, ok := lookup(docs, SectionRoutingThresholds); ok {
		if m, ok := v.(map[string]any); ok {
			for k, e := range m {
				if f, ok := toFloat(e); ok {
					r.Thresholds[strings.TrimSuffix(strings.ToLower(k), "_threshold")] = f
				}
			}
		}
	}

	if v, ok := lookup(docs, SectionRoutingGuards); ok {
		if m, ok := v.(map[string]any); ok {
			r.Guards = make(map[action.Kind]string, len(m))
			for name, e := range m {
				kind, _ := action.ParseKind(name)
				if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
					r.Guards[kind] = s
				}
			}
		}
	}

	return r
}

// lookup returns the first document's value for key.
func lookup(docs []Document, key string) (any, bool) {
	for _, d := range docs {
		if v, ok := d.Content[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func parseQuotas(v any) map[action.Kind]quota.Rule {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[action.Kind]quota.Rule, len(m))
	for name, spec := range m {
		sm, ok := spec.(map[string]any)
		if !ok {
			continue
		}
		limit, ok := toInt(sm["max"])
		if !ok {
			continue
		}
		window, ok := toDuration(sm["window"])
		if !ok {
			if secs, ok2 := toInt(sm["window_seconds"]); ok2 {
				window, ok = time.Duration(secs)*time.Second, true
			}
		}
		if !ok {
			window = time.Hour
		}
		perResource, _ := sm["per_resource"].(bool)
		rule := quota.Rule{Max: limit, Window: window, PerResource: perResource}
		if !rule.Valid() {
			continue
		}
		kind, _ := action.ParseKind(name)
		out[kind] = rule
	}
	return out
}

func parseForbidden(v any) []ForbiddenPattern {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []ForbiddenPattern
	for _, e := range list {
		switch t := e.(type) {
		case string:
			if t != "" {
				out = append(out, ForbiddenPattern{Description: t, Keywords: []string{t}})
			}
		case map[string]any:
			kw := stringList(t["keywords"])
			if len(kw) == 0 {
				continue
			}
			desc, _ := t["description"].(string)
			out = append(out, ForbiddenPattern{Description: desc, Keywords: kw})
		}
	}
	return out
}

func parseBoundary(v any) RoleBoundary {
	m, ok := v.(map[string]any)
	if !ok {
		return RoleBoundary{}
	}
	b := RoleBoundary{
		ForbiddenWords:     stringList(m["forbidden_words"]),
		FinalTruthPatterns: stringList(m["final_truth_patterns"]),
	}
	b.NoFinalTruth, _ = m["no_final_truth"].(bool)
	return b
}

func parseLengths(v any, into map[action.Kind]LengthBounds) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	flat := map[string]struct {
		kind action.Kind
		max  bool
	}{
		"segment_min": {action.KindContinue, false},
		"segment_max": {action.KindContinue, true},
		"comment_min": {action.KindComment, false},
		"comment_max": {action.KindComment, true},
	}
	for k, e := range m {
		if f, ok := flat[k]; ok {
			n, ok := toInt(e)
			if !ok || n < 0 {
				continue
			}
			b := into[f.kind]
			if f.max {
				b.Max = n
			} else {
				b.Min = n
			}
			into[f.kind] = b
			continue
		}
		sm, ok := e.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := action.ParseKind(k)
		b := into[kind]
		if n, ok := toInt(sm["min"]); ok && n >= 0 {
			b.Min = n
		}
		if n, ok := toInt(sm["max"]); ok && n >= 0 {
			b.Max = n
		}
		into[kind] = b
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// toDuration accepts Go duration strings ("1h", "30m") and bare numbers of
// seconds.
func toDuration(v any) (time.Duration, bool) {
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err == nil {
			return d, true
		}
	}
	if n, ok := toInt(v); ok {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func (r Rules) clone() Rules {
	out := Rules{
		Boundary: RoleBoundary{
			ForbiddenWords:     append([]string(nil), r.Boundary.ForbiddenWords...),
			NoFinalTruth:       r.Boundary.NoFinalTruth,
			FinalTruthPatterns: append([]string(nil), r.Boundary.FinalTruthPatterns...),
		},
	}
	if r.Quotas != nil {
		out.Quotas = make(map[action.Kind]quota.Rule, len(r.Quotas))
		for k, v := range r.Quotas {
			out.Quotas[k] = v
		}
	}
	for _, p := range r.Forbidden {
		out.Forbidden = append(out.Forbidden, ForbiddenPattern{
			Description: p.Description,
			Keywords:    append([]string(nil), p.Keywords...),
		})
	}
	if r.Lengths != nil {
		out.Lengths = make(map[action.Kind]LengthBounds, len(r.Lengths))
		for k, v := range r.Lengths {
			out.Lengths[k] = v
		}
	}
	if r.References != nil {
		out.References = make(map[action.Kind][]string, len(r.References))
		for k, v := range r.References {
			out.References[k] = append([]string(nil), v...)
		}
	}
	if r.Thresholds != nil {
		out.Thresholds = make(map[string]float64, len(r.Thresholds))
		for k, v := range r.Thresholds {
			out.Thresholds[k] = v
		}
	}
	if r.Guards != nil {
		out.Guards = make(map[action.Kind]string, len(r.Guards))
		for k, v := range r.Guards {
			out.Guards[k] = v
		}
	}
	return out
}
