package feedcache

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Key identifies a cached query: ordered path segments (the first is the
// domain) plus optional named parameters. Keys are immutable value objects;
// equality is structural and parameter order is irrelevant.
//
// Example:
//
//	feed := feedcache.NewKey("stories", "feeds").With("limit", 50)
//	user := feedcache.NewKey("stories", "users", userID, "stories")
type Key struct {
	segments []string
	params   []keyParam
	canon    string
}

type keyParam struct {
	name  string
	value string
}

// NewKey creates a key from a domain and path segments.
// An empty domain yields the zero Key.
func NewKey(domain string, segments ...string) Key {
	if domain == "" {
		return Key{}
	}
	segs := make([]string, 0, len(segments)+1)
	segs = append(segs, domain)
	segs = append(segs, segments...)
	return Key{segments: segs, canon: canonicalKey(segs, nil)}
}

// With returns a copy of the key with the named parameter set, replacing
// any existing value. Values may be strings or integers; other types use
// their default string form. Integer parameters and their decimal string
// form are the same parameter ("50" equals 50).
func (k Key) With(name string, value any) Key {
	if k.IsZero() || name == "" {
		return k
	}

	var v string
	switch t := value.(type) {
	case string:
		v = t
	case int:
		v = strconv.Itoa(t)
	case int64:
		v = strconv.FormatInt(t, 10)
	default:
		v = fmt.Sprint(value)
	}

	params := make([]keyParam, 0, len(k.params)+1)
	for _, p := range k.params {
		if p.name != name {
			params = append(params, p)
		}
	}
	params = append(params, keyParam{name: name, value: v})
	slices.SortFunc(params, func(a, b keyParam) int {
		return strings.Compare(a.name, b.name)
	})

	segs := slices.Clone(k.segments)
	return Key{segments: segs, params: params, canon: canonicalKey(segs, params)}
}

// IsZero reports whether the key is the zero value.
func (k Key) IsZero() bool { return len(k.segments) == 0 }

// Domain returns the first segment, or "" for the zero Key.
func (k Key) Domain() string {
	if k.IsZero() {
		return ""
	}
	return k.segments[0]
}

// Segments returns a copy of the path segments, domain first.
func (k Key) Segments() []string { return slices.Clone(k.segments) }

// Param returns the named parameter value.
func (k Key) Param(name string) (string, bool) {
	for _, p := range k.params {
		if p.name == name {
			return p.value, true
		}
	}
	return "", false
}

// IntParam returns the named parameter parsed as an integer.
func (k Key) IntParam(name string) (int, bool) {
	v, ok := k.Param(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Equal reports whether two keys are structurally equal.
func (k Key) Equal(other Key) bool { return k.canon == other.canon }

// String returns the canonical form, e.g. "stories/feeds?limit=50".
// Segments and parameter values are escaped, so the canonical form of
// distinct keys never collides.
func (k Key) String() string { return k.canon }

// HasPrefix reports whether the key starts with the given segment prefix.
// A key is a prefix of itself. A prefix carrying parameters matches only
// the identical key, since parameters terminate a key.
func (k Key) HasPrefix(prefix Key) bool {
	if prefix.IsZero() {
		return false
	}
	if k.canon == prefix.canon {
		return true
	}
	if len(prefix.params) > 0 {
		return false
	}
	return strings.HasPrefix(k.canon, prefix.canon+"/") || strings.HasPrefix(k.canon, prefix.canon+"?")
}

func canonicalKey(segments []string, params []keyParam) string {
	var b strings.Builder
	for i, s := range segments {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(url.PathEscape(s))
	}
	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}
