// Package graph answers structural questions about a pipeline: which nodes
// take part, where execution starts, and in which order nodes can run.
//
// Only nodes touched by at least one pipe belong to the node set. A node
// listed in the pipeline without any pipe is ignored.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/animus-labs/analyses-go/internal/domain"
)

// ValidationError aggregates pipeline graph issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "pipeline validation failed"
	}
	return "pipeline validation failed: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// Validate checks pipe endpoints, destination port uniqueness and acyclicity.
func Validate(p domain.Pipeline) error {
	issues := &ValidationError{}
	if err := p.ValidateBasicShape(); err != nil {
		issues.Add(err.Error())
	}

	nodes := make(map[string]struct{}, len(p.Nodes))
	for _, node := range p.Nodes {
		id := strings.TrimSpace(node.ID)
		if id == "" {
			continue
		}
		if _, ok := nodes[id]; ok {
			issues.Add(fmt.Sprintf("duplicate node %q", id))
		}
		nodes[id] = struct{}{}
	}

	adj := make(map[string][]string, len(nodes))
	ports := make(map[string]struct{}, len(p.Pipes))
	for _, pipe := range p.Pipes {
		from := strings.TrimSpace(pipe.SourceID)
		to := strings.TrimSpace(pipe.DestinationID)
		if from == "" || to == "" {
			continue
		}
		if from == to {
			issues.Add(fmt.Sprintf("pipe %s.%s -> %s.%s is a self-pipe", from, pipe.SourcePort, to, pipe.DestinationPort))
			continue
		}
		if _, ok := nodes[from]; !ok {
			issues.Add(fmt.Sprintf("pipe source %q not found", from))
			continue
		}
		if _, ok := nodes[to]; !ok {
			issues.Add(fmt.Sprintf("pipe destination %q not found", to))
			continue
		}
		port := to + "." + pipe.DestinationPort
		if _, ok := ports[port]; ok {
			issues.Add(fmt.Sprintf("input %s is fed by more than one pipe", port))
		}
		ports[port] = struct{}{}
		adj[from] = append(adj[from], to)
	}

	if hasCycle(adj, nodes) {
		issues.Add("pipeline graph contains a cycle")
	}
	return issues.OrNil()
}

func hasCycle(adj map[string][]string, nodes map[string]struct{}) bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))
	var visit func(string) bool
	visit = func(node string) bool {
		switch state[node] {
		case visiting:
			return true
		case done:
			return false
		}
		state[node] = visiting
		for _, next := range adj[node] {
			if visit(next) {
				return true
			}
		}
		state[node] = done
		return false
	}

	for node := range nodes {
		if state[node] == unvisited {
			if visit(node) {
				return true
			}
		}
	}
	return false
}

// NodeSet returns every node appearing as a pipe source or destination,
// sorted by id.
func NodeSet(p domain.Pipeline) []domain.Node {
	members := make(map[string]struct{}, len(p.Pipes)*2)
	for _, pipe := range p.Pipes {
		members[pipe.SourceID] = struct{}{}
		members[pipe.DestinationID] = struct{}{}
	}
	return pick(p, func(id string) bool {
		_, ok := members[id]
		return ok
	})
}

// EntryNodes returns the members of the node set that no pipe feeds.
func EntryNodes(p domain.Pipeline) []domain.Node {
	destinations := make(map[string]struct{}, len(p.Pipes))
	for _, pipe := range p.Pipes {
		destinations[pipe.DestinationID] = struct{}{}
	}
	out := make([]domain.Node, 0)
	for _, node := range NodeSet(p) {
		if _, ok := destinations[node.ID]; !ok {
			out = append(out, node)
		}
	}
	return out
}

// Order returns the node set in dependency order. Ties break by node id.
func Order(p domain.Pipeline) ([]domain.Node, error) {
	set := NodeSet(p)
	byID := make(map[string]domain.Node, len(set))
	inDegree := make(map[string]int, len(set))
	for _, node := range set {
		byID[node.ID] = node
		inDegree[node.ID] = 0
	}
	adj := make(map[string][]string, len(set))
	for _, pipe := range p.Pipes {
		if _, ok := byID[pipe.DestinationID]; !ok {
			return nil, fmt.Errorf("pipe destination %q not found", pipe.DestinationID)
		}
		if _, ok := byID[pipe.SourceID]; !ok {
			return nil, fmt.Errorf("pipe source %q not found", pipe.SourceID)
		}
		adj[pipe.SourceID] = append(adj[pipe.SourceID], pipe.DestinationID)
		inDegree[pipe.DestinationID]++
	}

	ready := make([]string, 0, len(set))
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	ordered := make([]domain.Node, 0, len(set))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
				sort.Strings(ready)
			}
		}
	}
	if len(ordered) != len(set) {
		return nil, fmt.Errorf("pipeline graph contains a cycle")
	}
	return ordered, nil
}

// Incoming returns the pipes whose destination is nodeID.
func Incoming(p domain.Pipeline, nodeID string) []domain.Pipe {
	out := make([]domain.Pipe, 0)
	for _, pipe := range p.Pipes {
		if pipe.DestinationID == nodeID {
			out = append(out, pipe)
		}
	}
	return out
}

// Outgoing returns the pipes whose source is nodeID.
func Outgoing(p domain.Pipeline, nodeID string) []domain.Pipe {
	out := make([]domain.Pipe, 0)
	for _, pipe := range p.Pipes {
		if pipe.SourceID == nodeID {
			out = append(out, pipe)
		}
	}
	return out
}

func pick(p domain.Pipeline, keep func(id string) bool) []domain.Node {
	seen := make(map[string]struct{}, len(p.Nodes))
	out := make([]domain.Node, 0, len(p.Nodes))
	for _, node := range p.Nodes {
		if !keep(node.ID) {
			continue
		}
		if _, ok := seen[node.ID]; ok {
			continue
		}
		seen[node.ID] = struct{}{}
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
