// Package unitfile reads systemd-style unit files and turns them into
// svcconfig.Config values. The in-memory model (sections, keyed pairs,
// replace-vs-append updates) and the text-parsing grammar both follow the
// original unit reader: a flat [Section] / key=value format with # and ;
// comments and backslash line continuation.
package unitfile

import "fmt"

// Unit is a parsed unit file: an ordered-by-name set of sections, each a
// set of key/value pairs. Keys within a section are unique; while parsing,
// a repeated assignment with a non-empty value appends to the existing
// value and one with an empty value replaces it.
type Unit struct {
	Name     string
	sections map[string]map[string]string
}

func newUnit(name string) *Unit {
	return &Unit{Name: name, sections: make(map[string]map[string]string)}
}

// update sets or updates key in section. If append is true and the key
// already has a value, the new value is appended to the old one with an
// intervening space instead of replacing it. A nil value deletes the key.
func (u *Unit) update(section, key string, value *string, append bool) {
	s, ok := u.sections[section]
	if !ok {
		s = make(map[string]string)
		u.sections[section] = s
	}
	old, existed := s[key]
	switch {
	case value == nil:
		delete(s, key)
	case append && existed:
		s[key] = old + " " + *value
	default:
		s[key] = *value
	}
}

func (u *Unit) setValue(section, key, value string) {
	u.update(section, key, &value, false)
}

func (u *Unit) appendValue(section, key, value string) {
	u.update(section, key, &value, true)
}

// Get returns the value of key in section, and whether it was set.
func (u *Unit) Get(section, key string) (string, bool) {
	s, ok := u.sections[section]
	if !ok {
		return "", false
	}
	v, ok := s[key]
	return v, ok
}

// GetBool parses a systemd-style boolean (1/yes/true/on vs 0/no/false/off).
// Unset or unrecognized values are false.
func (u *Unit) GetBool(section, key string) bool {
	v, ok := u.Get(section, key)
	if !ok {
		return false
	}
	switch v {
	case "1", "yes", "true", "on":
		return true
	default:
		return false
	}
}

// Section returns a copy of a section's key/value pairs, or nil if the
// section does not exist.
func (u *Unit) Section(name string) map[string]string {
	s, ok := u.sections[name]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// String renders the unit back to unit-file text, one section per
// paragraph. Key order within a section is unspecified, matching the
// hash-table-backed original.
func (u *Unit) String() string {
	out := ""
	for name, pairs := range u.sections {
		out += fmt.Sprintf("[%s]\n", name)
		for k, v := range pairs {
			out += fmt.Sprintf("%s=%s\n", k, v)
		}
		out += "\n"
	}
	return out
}
