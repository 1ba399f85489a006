package envvars

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError is returned when a variable references itself, directly or through other variables.
type CycleError struct {
	Name string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("environment variable %q is part of a reference cycle", e.Name)
}

// ExtractRefs returns the sorted, de-duplicated names referenced by value using the $(NAME) syntax.
// $$ escapes a dollar sign, so $$(NAME) is a literal.
func ExtractRefs(name, value string) ([]string, error) {
	seen := map[string]struct{}{}
	refs := []string{}

	scanRefs(value, func(ref string) {
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	})

	if _, ok := seen[name]; ok {
		return nil, &CycleError{Name: name}
	}

	sort.Strings(refs)
	return refs, nil
}

func scanRefs(value string, fn func(ref string)) {
	for i := 0; i < len(value)-1; i++ {
		if value[i] != '$' {
			continue
		}

		switch value[i+1] {
		case '$':
			i++ // escaped
		case '(':
			end := strings.IndexByte(value[i+2:], ')')
			if end < 0 {
				return // unterminated
			}
			if ref := value[i+2 : i+2+end]; ref != "" {
				fn(ref)
			}
			i += 2 + end
		}
	}
}
