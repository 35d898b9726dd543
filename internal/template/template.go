// Package template compiles ${field.path} placeholder templates and
// renders them against nested event maps. Rendering is total: missing
// paths render empty and a bad timestamp falls back to wall-clock time.
package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kbridge/internal/config"
)

var ErrSyntax = errors.New("template: bad placeholder syntax")

// segment is either a literal (path == nil) or a placeholder lookup.
type segment struct {
	lit  string
	path []string
}

type program []segment

// Compiled holds the three fragment programs of a message template.
type Compiled struct {
	key   program
	value program
	ts    program
}

func Compile(raw config.MessageTemplate) (*Compiled, error) {
	var c Compiled
	var err error
	if c.key, err = compileFragment(raw.Key); err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	if c.value, err = compileFragment(raw.Value); err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	if c.ts, err = compileFragment(raw.Timestamp); err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	return &c, nil
}

func compileFragment(s string) (program, error) {
	var p program
	for len(s) > 0 {
		i := strings.Index(s, "${")
		if i < 0 {
			p = append(p, segment{lit: s})
			break
		}
		if i > 0 {
			p = append(p, segment{lit: s[:i]})
		}
		rest := s[i+2:]
		j := strings.IndexByte(rest, '}')
		if j < 0 {
			return nil, fmt.Errorf("%w: unterminated placeholder in %q", ErrSyntax, s)
		}
		path := strings.TrimSpace(rest[:j])
		if path == "" {
			return nil, fmt.Errorf("%w: empty placeholder in %q", ErrSyntax, s)
		}
		p = append(p, segment{path: strings.Split(path, ".")})
		s = rest[j+1:]
	}
	return p, nil
}

// Rendered is one wire record worth of output.
type Rendered struct {
	Key       []byte
	Value     []byte
	Timestamp int64
}

// Render substitutes placeholders from ev. Missing paths render empty;
// an unparsable timestamp falls back to the current time in millis.
func (c *Compiled) Render(ev map[string]any) Rendered {
	r := Rendered{
		Key:   []byte(renderFragment(c.key, ev)),
		Value: []byte(renderFragment(c.value, ev)),
	}
	ts := strings.TrimSpace(renderFragment(c.ts, ev))
	if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
		r.Timestamp = n
	} else {
		r.Timestamp = time.Now().UnixMilli()
	}
	return r
}

func renderFragment(p program, ev map[string]any) string {
	var b strings.Builder
	for _, seg := range p {
		if seg.path == nil {
			b.WriteString(seg.lit)
			continue
		}
		if v, ok := lookup(ev, seg.path); ok {
			b.WriteString(formatScalar(v))
		}
	}
	return b.String()
}

func lookup(ev map[string]any, path []string) (any, bool) {
	var cur any = ev
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}
