package envvars

import (
	"fmt"
	"slices"
	"sort"

	"github.com/jveski/workspaced/common"
)

type color int

const (
	white color = iota // unvisited
	gray               // in progress
	black              // done
)

type graph struct {
	values  map[string]string
	refs    map[string][]string // direct references, sorted
	closure map[string]map[string]struct{}
}

// Resolve orders the variables such that each one appears after every variable it references,
// making sequential $(NAME) substitution safe. The order doesn't depend on the order of the input.
func Resolve(vars []common.EnvVar) ([]common.EnvVar, error) {
	g, err := buildGraph(vars)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(g.values))
	for name := range g.values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := g.visit(name); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(names, func(i, j int) bool { return g.less(names[i], names[j]) })

	out := make([]common.EnvVar, 0, len(names))
	for _, name := range g.emit(names) {
		out = append(out, common.EnvVar{Name: name, Value: g.values[name]})
	}
	return out, nil
}

func buildGraph(vars []common.EnvVar) (*graph, error) {
	g := &graph{
		values:  make(map[string]string, len(vars)),
		refs:    make(map[string][]string, len(vars)),
		closure: make(map[string]map[string]struct{}, len(vars)),
	}

	for _, v := range vars {
		if v.Name == "" {
			return nil, fmt.Errorf("environment variable with value %q has no name", v.Value)
		}
		if existing, ok := g.values[v.Name]; ok {
			if existing != v.Value {
				return nil, fmt.Errorf("environment variable %q is defined more than once", v.Name)
			}
			continue
		}

		refs, err := ExtractRefs(v.Name, v.Value)
		if err != nil {
			return nil, err
		}
		g.values[v.Name] = v.Value
		g.refs[v.Name] = refs
	}

	return g, nil
}

// visit computes the transitive closure of every variable reachable from root.
// References to names that aren't defined are part of the closure but have no edges.
func (g *graph) visit(root string) error {
	if _, ok := g.closure[root]; ok {
		return nil
	}

	type frame struct {
		name string
		next int
	}
	colors := map[string]color{root: gray}
	stack := []*frame{{name: root}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		refs := g.refs[top.name]

		if top.next < len(refs) {
			ref := refs[top.next]
			top.next++

			if _, defined := g.values[ref]; !defined {
				continue
			}
			if _, done := g.closure[ref]; done {
				continue
			}
			switch colors[ref] {
			case gray:
				return &CycleError{Name: ref}
			case white:
				colors[ref] = gray
				stack = append(stack, &frame{name: ref})
			}
			continue
		}

		closure := map[string]struct{}{}
		for _, ref := range refs {
			closure[ref] = struct{}{}
			for transitive := range g.closure[ref] {
				closure[transitive] = struct{}{}
			}
		}
		g.closure[top.name] = closure
		colors[top.name] = black
		stack = stack[:len(stack)-1]
	}

	return nil
}

// less orders by the size of the transitive closure, then by the direct references, then by name.
// A dependency always has a smaller closure than its dependents.
func (g *graph) less(a, b string) bool {
	ca, cb := len(g.closure[a]), len(g.closure[b])
	if ca != cb {
		return ca < cb
	}
	if c := slices.Compare(g.refs[a], g.refs[b]); c != 0 {
		return c < 0
	}
	return a < b
}

// emit walks the graph depth-first from each root in the given order, emitting every variable
// after its dependencies.
func (g *graph) emit(roots []string) []string {
	done := make(map[string]struct{}, len(roots))
	out := make([]string, 0, len(roots))

	type frame struct {
		name string
		next int
	}
	for _, root := range roots {
		if _, ok := done[root]; ok {
			continue
		}

		stack := []*frame{{name: root}}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			refs := g.refs[top.name]

			if top.next < len(refs) {
				ref := refs[top.next]
				top.next++
				if _, defined := g.values[ref]; !defined {
					continue
				}
				if _, ok := done[ref]; !ok {
					stack = append(stack, &frame{name: ref})
				}
				continue
			}

			if _, ok := done[top.name]; !ok {
				done[top.name] = struct{}{}
				out = append(out, top.name)
			}
			stack = stack[:len(stack)-1]
		}
	}

	return out
}
