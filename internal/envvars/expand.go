package envvars

import (
	"sort"
	"strings"

	"github.com/jveski/workspaced/common"
)

// Merge combines the variables already present on a container with the declared ones.
// Declared values win on name collisions.
func Merge(existing []common.EnvVar, declared map[string]string) []common.EnvVar {
	out := make([]common.EnvVar, 0, len(existing)+len(declared))
	seen := map[string]int{}
	for _, v := range existing {
		if i, ok := seen[v.Name]; ok {
			out[i] = v
			continue
		}
		seen[v.Name] = len(out)
		out = append(out, v)
	}

	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := common.EnvVar{Name: name, Value: declared[name]}
		if i, ok := seen[name]; ok {
			out[i] = v
			continue
		}
		seen[name] = len(out)
		out = append(out, v)
	}
	return out
}

// Expand substitutes references left to right, the way container runtimes that support $(NAME)
// do it at start time. Vars must already be ordered by Resolve.
// References to unknown names are kept as-is.
func Expand(vars []common.EnvVar) []common.EnvVar {
	resolved := make(map[string]string, len(vars))
	out := make([]common.EnvVar, len(vars))
	for i, v := range vars {
		value := expandValue(v.Value, resolved)
		resolved[v.Name] = value
		out[i] = common.EnvVar{Name: v.Name, Value: value}
	}
	return out
}

func expandValue(value string, resolved map[string]string) string {
	if !strings.Contains(value, "$") {
		return value
	}

	b := strings.Builder{}
	for i := 0; i < len(value); i++ {
		if value[i] != '$' || i == len(value)-1 {
			b.WriteByte(value[i])
			continue
		}

		switch value[i+1] {
		case '$':
			b.WriteByte('$')
			i++
		case '(':
			end := strings.IndexByte(value[i+2:], ')')
			if end < 0 {
				b.WriteString(value[i:])
				return b.String()
			}
			ref := value[i+2 : i+2+end]
			if val, ok := resolved[ref]; ok && ref != "" {
				b.WriteString(val)
			} else {
				b.WriteString(value[i : i+3+end])
			}
			i += 2 + end
		default:
			b.WriteByte('$')
		}
	}
	return b.String()
}
