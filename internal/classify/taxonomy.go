package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Taxonomy maps category names to their subcategories, keeping the order in
// which the caller listed the categories.
type Taxonomy struct {
	names []string
	subs  map[string][]string
}

// NewTaxonomy builds a taxonomy from ordered category names and a subcategory map.
// Keys of subs that are not listed in names are ignored.
func NewTaxonomy(names []string, subs map[string][]string) (Taxonomy, error) {
	var t Taxonomy
	for _, name := range names {
		if err := t.add(name, subs[name]); err != nil {
			return Taxonomy{}, err
		}
	}
	return t, nil
}

// Len returns the number of categories.
func (t Taxonomy) Len() int {
	return len(t.names)
}

// Categories returns the category names in request order.
func (t Taxonomy) Categories() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Subcategories returns the subcategories registered for category, or nil.
func (t Taxonomy) Subcategories(category string) []string {
	subs := t.subs[category]
	if len(subs) == 0 {
		return nil
	}
	out := make([]string, len(subs))
	copy(out, subs)
	return out
}

// Clone returns a deep copy.
func (t Taxonomy) Clone() Taxonomy {
	c := Taxonomy{
		names: make([]string, len(t.names)),
		subs:  make(map[string][]string, len(t.subs)),
	}
	copy(c.names, t.names)
	for k, v := range t.subs {
		c.subs[k] = append([]string(nil), v...)
	}
	return c
}

func (t *Taxonomy) add(name string, subs []string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Message: "category names must not be empty"}
	}
	if t.subs == nil {
		t.subs = make(map[string][]string)
	}
	if _, dup := t.subs[name]; dup {
		return &ValidationError{Message: fmt.Sprintf("duplicate category %q", name)}
	}

	seen := make(map[string]bool, len(subs))
	kept := make([]string, 0, len(subs))
	for _, s := range subs {
		if strings.TrimSpace(s) == "" || seen[s] {
			continue
		}
		seen[s] = true
		kept = append(kept, s)
	}

	t.names = append(t.names, name)
	t.subs[name] = kept
	return nil
}

// UnmarshalJSON accepts either an object of category -> [subcategory, ...]
// or a plain array of category names.
func (t *Taxonomy) UnmarshalJSON(data []byte) error {
	*t = Taxonomy{}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("categories: %w", err)
	}

	switch tok {
	case nil:
		return nil
	case json.Delim('{'):
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return fmt.Errorf("categories: %w", err)
			}
			name, _ := keyTok.(string)
			var subs []string
			if err := dec.Decode(&subs); err != nil {
				return &ValidationError{Message: fmt.Sprintf("subcategories of %q must be a list of strings", name)}
			}
			if err := t.add(name, subs); err != nil {
				return err
			}
		}
	case json.Delim('['):
		for dec.More() {
			var name string
			if err := dec.Decode(&name); err != nil {
				return &ValidationError{Message: "category names must be strings"}
			}
			if err := t.add(name, nil); err != nil {
				return err
			}
		}
	default:
		return &ValidationError{Message: "categories must be an object or a list"}
	}

	_, err = dec.Token()
	return err
}

// MarshalJSON writes the taxonomy as an object, preserving category order.
func (t Taxonomy) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range t.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		subs := t.subs[name]
		if subs == nil {
			subs = []string{}
		}
		val, err := json.Marshal(subs)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
