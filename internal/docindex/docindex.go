// Package docindex reads, validates and generates doxygen navigation tables:
// JavaScript arrays of (display name, anchor, child table or null) triples.
package docindex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Entry is one row of a navigation table.
type Entry struct {
	Name   string
	Anchor string
	Child  *string // nested table variable, nil for leaves
}

// Table is a named navigation table.
type Table struct {
	Var     string
	Entries []Entry
}

// EntryError reports a malformed row.
type EntryError struct {
	Index  int
	Reason string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %d: %s", e.Index, e.Reason)
}

var header = regexp.MustCompile(`^\s*var\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=`)

// Parse reads a table in doxygen navtree form.
func Parse(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m := header.FindSubmatchIndex(data)
	if m == nil {
		return nil, errors.New("missing 'var NAME =' header")
	}
	name := string(data[m[2]:m[3]])
	body := bytes.TrimSpace(data[m[1]:])
	body = bytes.TrimSpace(bytes.TrimSuffix(body, []byte(";")))

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}

	t := &Table{Var: name, Entries: make([]Entry, 0, len(rows))}
	for i, raw := range rows {
		e, err := parseEntry(i, raw)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		t.Entries = append(t.Entries, e)
	}
	return t, nil
}

func parseEntry(i int, raw json.RawMessage) (Entry, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Entry{}, &EntryError{Index: i, Reason: "not an array"}
	}
	if len(fields) != 3 {
		return Entry{}, &EntryError{Index: i, Reason: fmt.Sprintf("has %d fields, want 3", len(fields))}
	}
	var e Entry
	if err := json.Unmarshal(fields[0], &e.Name); err != nil {
		return Entry{}, &EntryError{Index: i, Reason: "name is not a string"}
	}
	if err := json.Unmarshal(fields[1], &e.Anchor); err != nil {
		return Entry{}, &EntryError{Index: i, Reason: "anchor is not a string"}
	}
	if string(bytes.TrimSpace(fields[2])) != "null" {
		var child string
		if err := json.Unmarshal(fields[2], &child); err != nil {
			return Entry{}, &EntryError{Index: i, Reason: "child is neither a string nor null"}
		}
		e.Child = &child
	}
	return e, nil
}

// ParseFile parses one table file.
func ParseFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// Validate checks that names and anchors are present, anchors are unique
// and every child reference resolves. All problems are returned joined.
func (t *Table) Validate(resolve func(child string) bool) error {
	var errs []error
	seen := make(map[string]int, len(t.Entries))
	for i, e := range t.Entries {
		if strings.TrimSpace(e.Name) == "" {
			errs = append(errs, &EntryError{Index: i, Reason: "empty name"})
		}
		if e.Anchor == "" {
			errs = append(errs, &EntryError{Index: i, Reason: "empty anchor"})
		} else if first, dup := seen[e.Anchor]; dup {
			errs = append(errs, &EntryError{Index: i, Reason: fmt.Sprintf("anchor %q duplicates entry %d", e.Anchor, first)})
		} else {
			seen[e.Anchor] = i
		}
		if e.Child != nil && (resolve == nil || !resolve(*e.Child)) {
			errs = append(errs, &EntryError{Index: i, Reason: fmt.Sprintf("child %q does not resolve", *e.Child)})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("table %s: %w", t.Var, err)
	}
	return nil
}

// WriteTo renders the table the way doxygen does.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "var %s =\n[\n", t.Var)
	for i, e := range t.Entries {
		child := "null"
		if e.Child != nil {
			child = quote(*e.Child)
		}
		fmt.Fprintf(&b, "    [ %s, %s, %s ]", quote(e.Name), quote(e.Anchor), child)
		if i < len(t.Entries)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("];")
	return b.WriteTo(w)
}

func quote(s string) string {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(b.String(), "\n")
}

// Set holds tables by variable name.
type Set map[string]*Table

// LoadDir parses every *.js table in dir.
func LoadDir(dir string) (Set, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.js"))
	if err != nil {
		return nil, err
	}
	set := make(Set, len(paths))
	for _, p := range paths {
		t, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		set.Add(t)
	}
	return set, nil
}

// Add inserts or replaces a table.
func (s Set) Add(t *Table) { s[t.Var] = t }

// Has reports whether a table is present.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns table names sorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate validates every table, resolving children within the set.
func (s Set) Validate() error {
	var errs []error
	for _, n := range s.Names() {
		if err := s[n].Validate(s.Has); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
