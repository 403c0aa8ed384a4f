package filter

import (
	"encoding/json"
	"sort"
)

// filterAlias has the same fixed fields as F but no custom
// (Un)marshalJSON, so json.Marshal/Unmarshal on it doesn't recurse.
type filterAlias F

// MarshalJSON encodes f as the wire form: fixed fields plus one
// "#<name>" key per tag constraint, indexed or not.
func (f *F) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	fields := make(map[string]json.RawMessage)
	fixed, err := json.Marshal((*filterAlias)(f))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fixed, &fields); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.Tags))
	for name := range f.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := json.Marshal(f.Tags[name])
		if err != nil {
			return nil, err
		}
		fields["#"+name] = raw
	}
	return json.Marshal(fields)
}

// UnmarshalJSON decodes the wire form, routing any "#<name>" key into
// f.Tags.
func (f *F) UnmarshalJSON(b []byte) error {
	var fixed filterAlias
	if err := json.Unmarshal(b, &fixed); err != nil {
		return err
	}
	*f = F(fixed)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for key, val := range raw {
		if len(key) < 2 || key[0] != '#' {
			continue
		}
		var values []string
		if err := json.Unmarshal(val, &values); err != nil {
			return err
		}
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		f.Tags[key[1:]] = values
	}
	return nil
}
