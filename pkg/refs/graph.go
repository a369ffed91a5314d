package refs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
)

// Graph is the reference graph of one chained field: nodes are the sections
// of the field's type and an edge S -> T means S's field names T.
type Graph struct {
	Type string
	Key  string

	nodes  []string
	labels map[string]string
	edges  map[string][]string
}

// NewGraph creates an empty graph for the chained field sectionType.key.
func NewGraph(sectionType, key string) *Graph {
	return &Graph{
		Type:   sectionType,
		Key:    key,
		labels: make(map[string]string),
		edges:  make(map[string][]string),
	}
}

// BuildGraph builds the reference graph of field d from the snapshot. Edges
// to disabled sections are kept; only values naming missing sections or
// sentinels are dropped.
func BuildGraph(d *schema.Descriptor, snap *section.Snapshot) *Graph {
	g := NewGraph(d.Type, d.Key)
	for _, sec := range snap.SectionsOfType(d.Type) {
		g.AddNode(sec.ID, sec.Label())
	}
	for _, sec := range snap.SectionsOfType(d.Type) {
		for _, v := range sec.Values[d.Key] {
			if _, ok := snap.Section(d.Source.Target, v); ok {
				g.AddEdge(sec.ID, v)
			}
		}
	}
	return g
}

// AddNode adds a node with a display label.
func (g *Graph) AddNode(id, label string) {
	if _, exists := g.labels[id]; !exists {
		g.nodes = append(g.nodes, id)
	}
	g.labels[id] = label
}

// AddEdge adds an edge from -> to.
func (g *Graph) AddEdge(from, to string) {
	for _, existing := range g.edges[from] {
		if existing == to {
			return
		}
	}
	g.edges[from] = append(g.edges[from], to)
}

// SetEdges replaces the outgoing edges of from.
func (g *Graph) SetEdges(from string, to []string) {
	g.edges[from] = nil
	for _, t := range to {
		g.AddEdge(from, t)
	}
}

// Edges returns the targets of from.
func (g *Graph) Edges(from string) []string {
	return append([]string(nil), g.edges[from]...)
}

// Path returns a path from -> ... -> to following edges, or false when to
// is unreachable.
func (g *Graph) Path(from, to string) ([]string, bool) {
	visited := make(map[string]bool)
	var walk func(id string, path []string) ([]string, bool)
	walk = func(id string, path []string) ([]string, bool) {
		path = append(path, id)
		if id == to {
			return path, true
		}
		visited[id] = true
		for _, next := range g.edges[id] {
			if visited[next] {
				continue
			}
			if p, ok := walk(next, path); ok {
				return p, true
			}
		}
		return nil, false
	}
	return walk(from, nil)
}

// DetectCycle returns the first cycle found, starting the search from nodes
// in insertion order.
func (g *Graph) DetectCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range g.nodes {
		if !visited[id] {
			if cycle := g.detectCycleUtil(id, visited, recStack, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *Graph) detectCycleUtil(id string, visited, recStack map[string]bool, path []string) []string {
	visited[id] = true
	recStack[id] = true
	path = append(path, id)

	for _, next := range g.edges[id] {
		if !visited[next] {
			if cycle := g.detectCycleUtil(next, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[next] {
			for i, p := range path {
				if p == next {
					cycle := append([]string(nil), path[i:]...)
					return append(cycle, next)
				}
			}
		}
	}

	recStack[id] = false
	return nil
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	name := strings.ReplaceAll(g.Type+"_"+g.Key, "-", "_")
	sb.WriteString(fmt.Sprintf("digraph %s {\n", name))
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, id := range g.nodes {
		label := g.labels[id]
		if label == "" {
			label = id
		}
		sb.WriteString(fmt.Sprintf("  %q [label=%q];\n", id, label))
	}
	if len(g.nodes) > 0 {
		sb.WriteString("\n")
	}

	from := make([]string, 0, len(g.edges))
	for id := range g.edges {
		from = append(from, id)
	}
	sort.Strings(from)
	for _, id := range from {
		for _, to := range g.edges[id] {
			sb.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", id, to, g.Key))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// FormatCycle formats a cycle path for error messages.
func FormatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
