package graph

import (
	"reflect"
	"testing"

	"github.com/animus-labs/analyses-go/internal/domain"
)

func chain(ids ...string) domain.Pipeline {
	p := domain.Pipeline{ID: "p", Title: "chain"}
	for _, id := range ids {
		p.Nodes = append(p.Nodes, domain.Node{ID: id, AnalysisVersionID: "v"})
	}
	for i := 0; i+1 < len(ids); i++ {
		p.Pipes = append(p.Pipes, domain.Pipe{SourceID: ids[i], SourcePort: "out", DestinationID: ids[i+1], DestinationPort: "in"})
	}
	return p
}

func nodeIDs(nodes []domain.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node.ID)
	}
	return out
}

func TestEntryNodesOfChain(t *testing.T) {
	p := chain("A", "B", "C")
	if got := nodeIDs(EntryNodes(p)); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("expected [A], got %v", got)
	}
	if got := nodeIDs(NodeSet(p)); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("expected [A B C], got %v", got)
	}
}

func TestEntryNodesOfEmptyPipeline(t *testing.T) {
	p := domain.Pipeline{ID: "p", Title: "empty", Nodes: []domain.Node{{ID: "lonely", AnalysisVersionID: "v"}}}
	if got := EntryNodes(p); len(got) != 0 {
		t.Fatalf("expected no entry nodes, got %v", nodeIDs(got))
	}
	if got := NodeSet(p); len(got) != 0 {
		t.Fatalf("expected isolated node to be excluded, got %v", nodeIDs(got))
	}
	order, err := Order(p)
	if err != nil || len(order) != 0 {
		t.Fatalf("expected empty order, got %v (%v)", nodeIDs(order), err)
	}
}

func TestOrderIsDeterministic(t *testing.T) {
	p := domain.Pipeline{
		ID:    "p",
		Title: "diamond",
		Nodes: []domain.Node{{ID: "d"}, {ID: "c"}, {ID: "b"}, {ID: "a"}},
		Pipes: []domain.Pipe{
			{SourceID: "a", SourcePort: "o", DestinationID: "c", DestinationPort: "x"},
			{SourceID: "a", SourcePort: "o", DestinationID: "b", DestinationPort: "x"},
			{SourceID: "b", SourcePort: "o", DestinationID: "d", DestinationPort: "x"},
			{SourceID: "c", SourcePort: "o", DestinationID: "d", DestinationPort: "y"},
		},
	}
	order, err := Order(p)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if got := nodeIDs(order); !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if got := len(Incoming(p, "d")); got != 2 {
		t.Fatalf("expected 2 incoming pipes, got %d", got)
	}
	if got := len(Outgoing(p, "a")); got != 2 {
		t.Fatalf("expected 2 outgoing pipes, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	cyclic := chain("A", "B")
	cyclic.Pipes = append(cyclic.Pipes, domain.Pipe{SourceID: "B", SourcePort: "out", DestinationID: "A", DestinationPort: "in"})

	doubleFed := chain("A", "B", "C")
	doubleFed.Pipes = append(doubleFed.Pipes, domain.Pipe{SourceID: "A", SourcePort: "out", DestinationID: "C", DestinationPort: "in"})

	selfPipe := chain("A")
	selfPipe.Pipes = []domain.Pipe{{SourceID: "A", SourcePort: "out", DestinationID: "A", DestinationPort: "in"}}

	dangling := chain("A")
	dangling.Pipes = []domain.Pipe{{SourceID: "A", SourcePort: "out", DestinationID: "missing", DestinationPort: "in"}}

	tests := []struct {
		name    string
		p       domain.Pipeline
		wantErr bool
	}{
		{name: "chain", p: chain("A", "B", "C"), wantErr: false},
		{name: "cycle", p: cyclic, wantErr: true},
		{name: "input fed twice", p: doubleFed, wantErr: true},
		{name: "self pipe", p: selfPipe, wantErr: true},
		{name: "unknown destination", p: dangling, wantErr: true},
	}
	for _, tt := range tests {
		if err := Validate(tt.p); (err != nil) != tt.wantErr {
			t.Fatalf("%s: expected err=%v, got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestOrderRejectsCycle(t *testing.T) {
	p := chain("A", "B")
	p.Pipes = append(p.Pipes, domain.Pipe{SourceID: "B", SourcePort: "out", DestinationID: "A", DestinationPort: "in"})
	if _, err := Order(p); err == nil {
		t.Fatalf("expected cycle error")
	}
}
