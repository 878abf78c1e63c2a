// Package pkggraph holds the immutable dependency graph of packages managed
// by a single kodrdriv run: the set of packages, the package→dependency
// edges, and the reverse (dependent) index.
package pkggraph

import (
	"sort"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Package is a named, versioned unit of work with zero or more dependencies
// on other packages in the same graph.
type Package struct {
	Name         string
	Version      string
	Path         string
	Dependencies []string
}

// node adapts a Package into a gonum graph.Node.
type node struct {
	id  int64
	pkg string
}

func (n *node) ID() int64 { return n.id }

// Graph is the immutable dependency graph: packages, package→dependency
// edges, and the reverse (dependent) index, built once by Build and never
// mutated afterwards.
type Graph struct {
	packages map[string]*Package
	nodes    map[string]*node
	g        *simple.DirectedGraph

	// edges[p] is the set of names p directly depends on.
	edges map[string]map[string]struct{}
	// reverse[p] is the set of names that directly depend on p.
	reverse map[string]map[string]struct{}

	// order is the topologically sorted build order (dependencies first).
	order []string
}

// Build validates the invariants from the data model (unique names, every
// edge target exists, acyclic) and returns the resulting Graph.
func Build(packages []Package) (*Graph, error) {
	gr := &Graph{
		packages: make(map[string]*Package, len(packages)),
		nodes:    make(map[string]*node, len(packages)),
		g:        simple.NewDirectedGraph(),
		edges:    make(map[string]map[string]struct{}, len(packages)),
		reverse:  make(map[string]map[string]struct{}, len(packages)),
	}

	for i := range packages {
		p := packages[i]
		if _, ok := gr.packages[p.Name]; ok {
			return nil, xerrors.Errorf("duplicate package name %q", p.Name)
		}
		cp := p
		gr.packages[p.Name] = &cp
		n := &node{id: int64(i), pkg: p.Name}
		gr.nodes[p.Name] = n
		gr.g.AddNode(n)
		gr.edges[p.Name] = make(map[string]struct{})
	}

	for _, p := range packages {
		from := gr.nodes[p.Name]
		for _, dep := range p.Dependencies {
			if dep == p.Name {
				return nil, xerrors.Errorf("package %q depends on itself", p.Name)
			}
			to, ok := gr.nodes[dep]
			if !ok {
				return nil, xerrors.Errorf("package %q depends on unknown package %q", p.Name, dep)
			}
			gr.g.SetEdge(gr.g.NewEdge(from, to))
			gr.edges[p.Name][dep] = struct{}{}
			if gr.reverse[dep] == nil {
				gr.reverse[dep] = make(map[string]struct{})
			}
			gr.reverse[dep][p.Name] = struct{}{}
		}
	}

	sorted, err := topo.Sort(gr.g)
	if err != nil {
		return nil, xerrors.Errorf("dependency graph is not acyclic: %w", err)
	}
	// topo.Sort orders dependents before dependencies (edges point from a
	// package to what it depends on); reverse it so the build order runs
	// dependencies first.
	order := make([]string, len(sorted))
	for i, n := range sorted {
		order[len(sorted)-1-i] = n.(*node).pkg
	}
	gr.order = order

	return gr, nil
}

// Packages returns all packages in the graph, in build order.
func (g *Graph) Packages() []Package {
	out := make([]Package, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, *g.packages[name])
	}
	return out
}

// BuildOrder returns the full topological build order (dependencies first).
func (g *Graph) BuildOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Package returns the named package, or false if it is not in the graph.
func (g *Graph) Package(name string) (Package, bool) {
	p, ok := g.packages[name]
	if !ok {
		return Package{}, false
	}
	return *p, true
}

// Has reports whether name is a node in the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.packages[name]
	return ok
}

// Names returns every package name in the graph, sorted for determinism.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.packages))
	for name := range g.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dependencies returns the direct dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	deps := g.edges[name]
	out := make([]string, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Dependents returns the direct dependents of name (packages that list name
// as a dependency).
func (g *Graph) Dependents(name string) []string {
	deps := g.reverse[name]
	out := make([]string, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// TransitiveDependents returns the full transitive closure of dependents of
// name, following reverse edges (FindAllDependents in spec terms).
func (g *Graph) TransitiveDependents(name string) []string {
	seen := make(map[string]struct{})
	var walk func(string)
	walk = func(n string) {
		for d := range g.reverse[n] {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			walk(d)
		}
	}
	walk(name)
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
