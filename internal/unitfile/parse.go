package unitfile

import (
	"fmt"
	"io"
	"strings"
)

func issectionname(ch byte) bool {
	return ch >= 0x20 && ch < 0x7f && ch != '[' && ch != ']'
}

func iskey(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') || ch == '-'
}

func isvalue(ch byte) bool {
	return (ch >= 0x20 && ch < 0x7f) || ch == '\t'
}

func isblank(ch byte) bool {
	return ch == ' ' || ch == '\t'
}

// parseError reports the unit-file line a syntax error occurred on.
type parseError struct {
	name string
	line int
	msg  string
}

func (e *parseError) Error() string {
	return fmt.Sprintf("%s: line %d: %s", e.name, e.line, e.msg)
}

// Parse reads a systemd-style unit file and returns its parsed form. The
// grammar accepted is: blank lines, #/; comment lines, [Section] headers,
// and key=value assignments, one per line. A value may continue onto the
// next line if the line ends in a backslash; continuation lines that begin
// with a comment marker are skipped. Re-assigning a key whose new value is
// non-empty appends to the old value with an intervening space rather than
// replacing it, matching the original unit reader.
func Parse(r io.Reader, name string) (*Unit, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parseBytes(raw, name)
}

func parseBytes(buf []byte, name string) (*Unit, error) {
	u := newUnit(name)
	section := ""
	lno := 1
	i := 0
	end := len(buf)

	fail := func(msg string) error {
		return &parseError{name: name, line: lno, msg: msg}
	}

	for i < end {
		switch {
		case buf[i] == '\n':
			i++
			lno++
		case buf[i] == '#' || buf[i] == ';':
			j := i
			for j < end && buf[j] != '\n' {
				j++
			}
			i = j
		case buf[i] == '[':
			p := i + 1
			q := p
			for q < end && issectionname(buf[q]) {
				q++
			}
			if q == p {
				return nil, fail("expected section name")
			}
			if q >= end || buf[q] != ']' {
				return nil, fail("expected ']'")
			}
			r := q + 1
			if r < end && buf[r] != '\n' {
				return nil, fail("expected end of line")
			}
			section = string(buf[p:q])
			i = r
		default:
			k := i
			for k < end && iskey(buf[k]) {
				k++
			}
			if k == i {
				return nil, fail("expected key")
			}
			key := string(buf[i:k])
			q := k
			for q < end && isblank(buf[q]) {
				q++
			}
			if q >= end || buf[q] != '=' {
				return nil, fail("expected '='")
			}
			q++
			for q < end && isblank(buf[q]) {
				q++
			}

			var value strings.Builder
			r := q
			for r < end && isvalue(buf[r]) {
				ch := buf[r]
				if ch == '\\' && r+1 < end && buf[r+1] == '\n' {
					value.WriteByte(' ')
					r++
					lno++
					for r+1 < end && (buf[r+1] == '#' || buf[r+1] == ';') {
						r++
						for r < end && buf[r] != '\n' {
							r++
						}
						lno++
					}
					r++
					continue
				}
				value.WriteByte(ch)
				r++
			}
			if section == "" {
				return nil, fail("key-value pair before first section")
			}
			v := value.String()
			u.update(section, key, &v, v != "")
			i = r
		}
	}
	return u, nil
}
