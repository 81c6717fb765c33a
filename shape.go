package feedcache

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ParamSpec declares a named trailing parameter of a query shape.
// Numeric parameters round-trip through flat keys as integers; a malformed
// numeric segment parses to the declared default instead of failing.
type ParamSpec struct {
	Name    string
	Numeric bool
	Default string
}

// NumericParam declares an integer parameter with a parse fallback default.
func NumericParam(name string, def int) ParamSpec {
	return ParamSpec{Name: name, Numeric: true, Default: strconv.Itoa(def)}
}

// Shape declares one query family for a domain: the identifier layout and
// the flat remote-key template. Both translation directions are generated
// from the same declaration. Template variables are written "{name}";
// identifier templates are slash-separated, flat templates colon-separated.
//
// Example:
//
//	Shape{Domain: "stories", Path: "feeds", Params: []ParamSpec{NumericParam("limit", 50)}, Flat: "feed:{limit}"}
//	Shape{Domain: "stories", Path: "users/{user}/stories", Flat: "user:{user}"}
type Shape struct {
	Domain string
	Path   string
	Params []ParamSpec
	Flat   string
}

type tmplPart struct {
	lit string
	arg string // non-empty for variables
}

type compiledShape struct {
	Shape
	idParts   []tmplPart
	flatParts []tmplPart
}

// ShapeTable translates between structured keys and flat remote keys for an
// enumerable set of shapes. Identifiers outside the table are local-only;
// flat keys outside the table parse to a single-segment identifier so the
// reverse direction stays total.
type ShapeTable struct {
	byDomain map[string][]*compiledShape
	domains  []string
}

// NewShapeTable compiles and validates a set of shapes.
// Within a domain the first declared shape wins when several could match.
func NewShapeTable(shapes ...Shape) (*ShapeTable, error) {
	if len(shapes) == 0 {
		return nil, errors.New("shape table needs at least one shape")
	}

	t := &ShapeTable{byDomain: make(map[string][]*compiledShape)}
	idSigs := make(map[string]bool)
	flatSigs := make(map[string]bool)

	for i := range shapes {
		cs, err := compileShape(shapes[i])
		if err != nil {
			return nil, fmt.Errorf("shape %q %q: %w", shapes[i].Domain, shapes[i].Path, err)
		}

		idSig, flatSig := cs.signatures()
		if flatSigs[flatSig] {
			return nil, fmt.Errorf("shape %q %q: flat form conflicts with an earlier shape", cs.Domain, cs.Path)
		}
		if idSigs[idSig] {
			return nil, fmt.Errorf("shape %q %q: identifier form conflicts with an earlier shape", cs.Domain, cs.Path)
		}
		flatSigs[flatSig] = true
		idSigs[idSig] = true

		if _, ok := t.byDomain[cs.Domain]; !ok {
			t.domains = append(t.domains, cs.Domain)
		}
		t.byDomain[cs.Domain] = append(t.byDomain[cs.Domain], cs)
	}

	slices.Sort(t.domains)
	return t, nil
}

func compileShape(s Shape) (*compiledShape, error) {
	if s.Domain == "" {
		return nil, errors.New("empty domain")
	}
	if strings.ContainsAny(s.Domain, ":/{}") {
		return nil, fmt.Errorf("invalid domain %q", s.Domain)
	}

	idParts, err := parseTemplate(s.Path, '/')
	if err != nil {
		return nil, fmt.Errorf("identifier template: %w", err)
	}
	flatParts, err := parseTemplate(s.Flat, ':')
	if err != nil {
		return nil, fmt.Errorf("flat template: %w", err)
	}

	// Every variable must be declared exactly once and referenced exactly
	// once in the flat template, or one direction cannot be reconstructed.
	vars := make(map[string]int)
	for _, p := range idParts {
		if p.arg == "" {
			continue
		}
		if _, ok := vars[p.arg]; ok {
			return nil, fmt.Errorf("variable %q declared twice", p.arg)
		}
		vars[p.arg] = 0
	}
	for _, ps := range s.Params {
		if ps.Name == "" {
			return nil, errors.New("parameter with empty name")
		}
		if _, ok := vars[ps.Name]; ok {
			return nil, fmt.Errorf("parameter %q clashes with another variable", ps.Name)
		}
		if ps.Numeric {
			if _, err := strconv.Atoi(ps.Default); err != nil {
				return nil, fmt.Errorf("numeric parameter %q has non-numeric default %q", ps.Name, ps.Default)
			}
		}
		vars[ps.Name] = 0
	}
	for _, p := range flatParts {
		if p.arg == "" {
			continue
		}
		if _, ok := vars[p.arg]; !ok {
			return nil, fmt.Errorf("flat template references undeclared variable %q", p.arg)
		}
		vars[p.arg]++
	}
	for name, refs := range vars {
		if refs != 1 {
			return nil, fmt.Errorf("variable %q must appear exactly once in the flat template (appears %d times)", name, refs)
		}
	}

	return &compiledShape{Shape: s, idParts: idParts, flatParts: flatParts}, nil
}

func parseTemplate(s string, sep byte) ([]tmplPart, error) {
	if s == "" {
		return nil, nil
	}
	var parts []tmplPart
	for _, tok := range strings.Split(s, string(sep)) {
		switch {
		case tok == "":
			return nil, errors.New("empty template segment")
		case strings.HasPrefix(tok, "{") && strings.HasSuffix(tok, "}"):
			name := tok[1 : len(tok)-1]
			if name == "" || strings.ContainsAny(name, "{}") {
				return nil, fmt.Errorf("invalid variable %q", tok)
			}
			parts = append(parts, tmplPart{arg: name})
		case strings.ContainsAny(tok, "{}"):
			return nil, fmt.Errorf("malformed segment %q", tok)
		default:
			parts = append(parts, tmplPart{lit: tok})
		}
	}
	return parts, nil
}

func (cs *compiledShape) signatures() (idSig, flatSig string) {
	var id strings.Builder
	id.WriteString(cs.Domain)
	for _, p := range cs.idParts {
		id.WriteByte('/')
		if p.arg != "" {
			id.WriteByte('*')
		} else {
			id.WriteString(p.lit)
		}
	}
	names := make([]string, 0, len(cs.Params))
	for _, ps := range cs.Params {
		names = append(names, ps.Name)
	}
	slices.Sort(names)
	id.WriteByte('?')
	id.WriteString(strings.Join(names, ","))

	var fl strings.Builder
	fl.WriteString(cs.Domain)
	for _, p := range cs.flatParts {
		fl.WriteByte(':')
		if p.arg != "" {
			fl.WriteByte('*')
		} else {
			fl.WriteString(p.lit)
		}
	}
	return id.String(), fl.String()
}

// Domains returns the domains covered by the table, sorted.
func (t *ShapeTable) Domains() []string { return slices.Clone(t.domains) }

// Flat translates a structured key to its flat remote key.
// Returns false for shapes outside the table, for keys missing declared
// parameters, and for bound values that would corrupt the flat form;
// such keys are local-only, which is not an error.
func (t *ShapeTable) Flat(key Key) (string, bool) {
	if key.IsZero() {
		return "", false
	}
	for _, cs := range t.byDomain[key.Domain()] {
		if flat, ok := cs.flatten(key); ok {
			return flat, true
		}
	}
	return "", false
}

func (cs *compiledShape) flatten(key Key) (string, bool) {
	segs := key.segments[1:]
	if len(segs) != len(cs.idParts) || len(key.params) != len(cs.Params) {
		return "", false
	}

	binds := make(map[string]string, len(cs.idParts)+len(cs.Params))
	for i, part := range cs.idParts {
		if part.arg == "" {
			if part.lit != segs[i] {
				return "", false
			}
			continue
		}
		if !flatSafe(segs[i]) {
			return "", false
		}
		binds[part.arg] = segs[i]
	}
	for _, ps := range cs.Params {
		v, ok := key.Param(ps.Name)
		if !ok || !flatSafe(v) {
			return "", false
		}
		if ps.Numeric {
			if _, err := strconv.Atoi(v); err != nil {
				return "", false
			}
		}
		binds[ps.Name] = v
	}

	var b strings.Builder
	b.WriteString(cs.Domain)
	for _, part := range cs.flatParts {
		b.WriteByte(':')
		if part.arg != "" {
			b.WriteString(binds[part.arg])
		} else {
			b.WriteString(part.lit)
		}
	}
	return b.String(), true
}

// flatSafe reports whether a value can be embedded in a flat key without
// forging segment boundaries.
func flatSafe(v string) bool {
	return v != "" && !strings.ContainsRune(v, ':')
}

// Parse translates a flat remote key back to a structured key. The reverse
// direction is total: unknown or foreign flat keys yield a single-segment
// identifier equal to the raw key, and never an error.
func (t *ShapeTable) Parse(flat string) Key {
	if flat == "" {
		return Key{}
	}
	tokens := strings.Split(flat, ":")
	for _, cs := range t.byDomain[tokens[0]] {
		if key, ok := cs.parse(tokens[1:]); ok {
			return key
		}
	}
	return NewKey(flat)
}

func (cs *compiledShape) parse(tokens []string) (Key, bool) {
	if len(tokens) != len(cs.flatParts) {
		return Key{}, false
	}

	binds := make(map[string]string, len(tokens))
	for i, part := range cs.flatParts {
		if part.arg == "" {
			if part.lit != tokens[i] {
				return Key{}, false
			}
			continue
		}
		if tokens[i] == "" {
			return Key{}, false
		}
		binds[part.arg] = tokens[i]
	}

	segs := make([]string, 0, len(cs.idParts))
	for _, part := range cs.idParts {
		if part.arg != "" {
			segs = append(segs, binds[part.arg])
		} else {
			segs = append(segs, part.lit)
		}
	}

	key := NewKey(cs.Domain, segs...)
	for _, ps := range cs.Params {
		v := binds[ps.Name]
		if ps.Numeric {
			if _, err := strconv.Atoi(v); err != nil {
				v = ps.Default
			}
		}
		key = key.With(ps.Name, v)
	}
	return key, true
}

// FlatPrefixes expands a structured prefix into the remote keys it covers:
// exact flat keys for fully determined shapes and segment-safe string
// prefixes (always ending in the separator) where deeper identifier levels
// or parameters remain unbound. A prefix carrying parameters identifies at
// most one exact key, mirroring Key.HasPrefix.
func (t *ShapeTable) FlatPrefixes(prefix Key) (exact, prefixes []string) {
	if prefix.IsZero() {
		return nil, nil
	}

	if len(prefix.params) > 0 {
		if flat, ok := t.Flat(prefix); ok {
			return []string{flat}, nil
		}
		return nil, nil
	}

	domain := prefix.Domain()
	shapes := t.byDomain[domain]
	segs := prefix.segments[1:]

	// A bare domain covers the whole namespace; one scan prefix beats a
	// per-shape fan-out and also reaches orphaned keys from older shapes.
	if len(segs) == 0 {
		for _, cs := range shapes {
			if len(cs.flatParts) == 0 {
				exact = append(exact, domain)
				break
			}
		}
		return exact, []string{domain + ":"}
	}

	seenExact := make(map[string]bool)
	seenPrefix := make(map[string]bool)
	for _, cs := range shapes {
		e, p, ok := cs.prefixFlat(segs)
		switch {
		case !ok:
		case e != "" && !seenExact[e]:
			seenExact[e] = true
			exact = append(exact, e)
		case p != "" && !seenPrefix[p]:
			seenPrefix[p] = true
			prefixes = append(prefixes, p)
		}
	}
	return exact, prefixes
}

// prefixFlat matches segs as a segment prefix of the shape's identifier
// form and builds the flat form until the first unbound variable. A fully
// bound flat form is an exact key; a cut yields a string prefix.
func (cs *compiledShape) prefixFlat(segs []string) (exact, pfx string, ok bool) {
	if len(segs) > len(cs.idParts) {
		return "", "", false
	}

	binds := make(map[string]string, len(segs))
	for i, s := range segs {
		part := cs.idParts[i]
		if part.arg == "" {
			if part.lit != s {
				return "", "", false
			}
			continue
		}
		if !flatSafe(s) {
			return "", "", false
		}
		binds[part.arg] = s
	}

	var b strings.Builder
	b.WriteString(cs.Domain)
	for _, part := range cs.flatParts {
		if part.arg != "" {
			v, bound := binds[part.arg]
			if !bound {
				return "", b.String() + ":", true
			}
			b.WriteByte(':')
			b.WriteString(v)
			continue
		}
		b.WriteByte(':')
		b.WriteString(part.lit)
	}
	return b.String(), "", true
}
