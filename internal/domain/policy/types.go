// Package policy contains domain types for the remotely published behaviour
// policy: the raw documents, the immutable snapshot consumers read, and the
// typed rules parsed from it.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a policy document is neither in memory, in the
// durable cache, nor fetchable from the remote source.
var ErrNotFound = errors.New("policy document not found")

// Document is one named policy document as last fetched.
type Document struct {
	// Name is the document's logical name (e.g. "agent-policy").
	Name string
	// Raw is the exact bytes fetched or read from cache.
	Raw []byte
	// Content is the decoded key-value tree. Empty when Raw did not decode.
	Content map[string]any
	// Hash is the hex xxhash64 of Raw. Used for change detection.
	Hash string
	// FetchedAt is when Raw was obtained.
	FetchedAt time.Time
}

// NewDocument decodes raw and fills in the hash. When raw does not decode the
// document is still returned, with empty content, together with the decode
// error so the caller can log it.
func NewDocument(name string, raw []byte, fetchedAt time.Time) (Document, error) {
	doc := Document{
		Name:      name,
		Raw:       append([]byte(nil), raw...),
		Hash:      HashContent(raw),
		FetchedAt: fetchedAt,
	}
	content, err := Decode(raw)
	if err != nil {
		doc.Content = map[string]any{}
		return doc, fmt.Errorf("decode policy %q: %w", name, err)
	}
	doc.Content = content
	return doc, nil
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	out.Raw = append([]byte(nil), d.Raw...)
	out.Content = cloneMap(d.Content)
	return out
}

// HashContent returns the hex xxhash64 of data.
func HashContent(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// Decode parses a JSON or YAML document into a key-value tree. An empty
// document decodes to an empty map. A document whose top level is not a
// mapping is an error.
func Decode(data []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	m, ok := normalize(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top level is %T, want a mapping", v)
	}
	return m, nil
}

// normalize converts the map[any]any nodes yaml produces for non-string keys
// into map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Snapshot is an immutable view of every loaded document at one point in time.
// Accessors return copies; a snapshot handed to an in-flight cycle is never
// affected by later refreshes.
type Snapshot struct {
	docs  []Document
	rules Rules
}

// NewSnapshot builds a snapshot from documents in lookup order. The documents
// are copied.
func NewSnapshot(docs []Document) Snapshot {
	cp := make([]Document, len(docs))
	for i, d := range docs {
		cp[i] = d.Clone()
	}
	return Snapshot{docs: cp, rules: ParseRules(cp)}
}

// Empty reports whether no document is loaded.
func (s Snapshot) Empty() bool {
	return len(s.docs) == 0
}

// Names returns the loaded document names in lookup order.
func (s Snapshot) Names() []string {
	out := make([]string, len(s.docs))
	for i, d := range s.docs {
		out[i] = d.Name
	}
	return out
}

// Document returns a copy of the named document.
func (s Snapshot) Document(name string) (Document, bool) {
	for _, d := range s.docs {
		if d.Name == name {
			return d.Clone(), true
		}
	}
	return Document{}, false
}

// Documents returns copies of all documents in lookup order.
func (s Snapshot) Documents() []Document {
	out := make([]Document, len(s.docs))
	for i, d := range s.docs {
		out[i] = d.Clone()
	}
	return out
}

// Rules returns the typed rules parsed from the snapshot.
func (s Snapshot) Rules() Rules {
	return s.rules.clone()
}

// Version returns a digest over the names and hashes of every document,
// stable across processes. Empty for an empty snapshot.
func (s Snapshot) Version() string {
	if len(s.docs) == 0 {
		return ""
	}
	parts := make([]string, len(s.docs))
	for i, d := range s.docs {
		parts[i] = d.Name + "=" + d.Hash
	}
	sort.Strings(parts)
	return HashContent([]byte(strings.Join(parts, ";")))
}
