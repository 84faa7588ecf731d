package config

import "strings"

// Interpolate replaces ${NAME} and ${NAME:-default} references in s using
// lookup. A reference that resolves to nothing and has no default is left as
// written, as is an unterminated one.
func Interpolate(s string, lookup func(string) (string, bool)) string {
	var out strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start+2:], '}')
		if end < 0 {
			break
		}
		end += start + 2
		out.WriteString(s[:start])
		out.WriteString(resolve(s[start:end+1], lookup))
		s = s[end+1:]
	}
	out.WriteString(s)
	return out.String()
}

func resolve(ref string, lookup func(string) (string, bool)) string {
	name, def, hasDefault := strings.Cut(ref[2:len(ref)-1], ":-")
	if name == "" {
		return ref
	}
	if val, ok := lookup(name); ok && val != "" {
		return val
	}
	if hasDefault {
		return def
	}
	return ref
}
