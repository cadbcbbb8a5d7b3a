// Package escape assembles template fragments and interpolated values into a
// single shell-safe command string (spec §4.1). It is the one place in the
// module that turns a value of unknown shape into shell-safe text; every
// other package operates on typed, already-assembled Commands.
package escape

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// HostFamily selects the interpolation rules for a target shell family.
type HostFamily int

const (
	// POSIX covers bash/sh/zsh-style shells (the default).
	POSIX HostFamily = iota
	// Windows covers cmd.exe-style interpolation.
	Windows
)

// TextProducer is implemented by values that should interpolate as their own
// trimmed text rather than their Go representation — a prior Result, for
// instance.
type TextProducer interface {
	Text() (string, error)
}

// Awaitable is implemented by values that must be resolved to an underlying
// value before escaping (a not-yet-completed Process handle, say).
type Awaitable interface {
	Await() (any, error)
}

// Assemble joins literal fragments with escaped interpolated values into one
// shell-safe command string for the given host family.
//
// len(fragments) must equal len(values)+1 — fragments surround the
// interpolation points the same way a tagged template literal does:
// fragments[0] + escape(values[0]) + fragments[1] + escape(values[1]) + ...
func Assemble(family HostFamily, fragments []string, values []any) (string, error) {
	if len(fragments) != len(values)+1 {
		return "", fmt.Errorf("escape: expected %d fragments for %d values, got %d", len(values)+1, len(values), len(fragments))
	}

	var b strings.Builder
	for i, frag := range fragments {
		b.WriteString(frag)
		if i < len(values) {
			escaped, err := escapeValue(family, values[i])
			if err != nil {
				return "", fmt.Errorf("escape: interpolating value %d: %w", i, err)
			}
			b.WriteString(escaped)
		}
	}
	return b.String(), nil
}

// AssembleRaw concatenates fragments and values with no escaping at all.
// Intended only for trusted, pre-escaped input (spec §4.1 "Raw mode").
func AssembleRaw(fragments []string, values []any) string {
	var b strings.Builder
	for i, frag := range fragments {
		b.WriteString(frag)
		if i < len(values) {
			b.WriteString(rawString(values[i]))
		}
	}
	return b.String()
}

func rawString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// escapeValue dispatches on the runtime shape of v per spec §4.1's per-value
// rules, resolving Awaitable/TextProducer values first.
func escapeValue(family HostFamily, v any) (string, error) {
	if v == nil {
		return "", nil
	}

	if aw, ok := v.(Awaitable); ok {
		resolved, err := aw.Await()
		if err != nil {
			return "", err
		}
		return escapeValue(family, resolved)
	}

	if tp, ok := v.(TextProducer); ok {
		text, err := tp.Text()
		if err != nil {
			return "", err
		}
		return Quote(family, text), nil
	}

	switch val := v.(type) {
	case string:
		return Quote(family, val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case []string:
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = Quote(family, s)
		}
		return strings.Join(parts, " "), nil
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			escaped, err := escapeValue(family, elem)
			if err != nil {
				return "", err
			}
			parts[i] = escaped
		}
		return strings.Join(parts, " "), nil
	case map[string]any:
		canonical, err := canonicalJSON(val)
		if err != nil {
			return "", fmt.Errorf("canonicalizing mapping value: %w", err)
		}
		return Quote(family, canonical), nil
	default:
		return Quote(family, fmt.Sprintf("%v", val)), nil
	}
}

// canonicalJSON marshals a map with sorted keys so repeated calls over the
// same data are byte-identical.
func canonicalJSON(m map[string]any) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 64)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		vb, err := json.Marshal(m[k])
		if err != nil {
			return "", err
		}
		ordered = append(ordered, kb...)
		ordered = append(ordered, ':')
		ordered = append(ordered, vb...)
	}
	ordered = append(ordered, '}')
	return string(ordered), nil
}

// Quote renders s as a single shell-safe literal token for family: every
// character in s is literal to the shell, regardless of content.
func Quote(family HostFamily, s string) string {
	switch family {
	case Windows:
		return quoteWindows(s)
	default:
		return quotePOSIX(s)
	}
}

// quotePOSIX wraps s in single quotes, rendering each embedded single quote
// as the four-character sequence '\'' (close quote, escaped quote, reopen
// quote) — the standard POSIX-shell-safe idiom.
func quotePOSIX(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// quoteWindows wraps s in double quotes for cmd.exe, escaping embedded
// backslashes and double quotes.
func quoteWindows(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
