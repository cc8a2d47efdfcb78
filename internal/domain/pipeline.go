package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Node binds one analysis version to a fixed partial configuration.
type Node struct {
	ID                string
	Name              string
	AnalysisVersionID string
	Configuration     map[string]any
	CreatedAt         time.Time
}

// Pipe routes the SourcePort output of one node into the DestinationPort input
// of another. Ports are definition keys.
type Pipe struct {
	ID              string
	PipelineID      string
	SourceID        string
	SourcePort      string
	DestinationID   string
	DestinationPort string
}

// Pipeline owns its pipes and references its nodes.
type Pipeline struct {
	ID          string
	Title       string
	Description string
	Nodes       []Node
	Pipes       []Pipe
	CreatedAt   time.Time
}

func (p Pipeline) Node(id string) (Node, bool) {
	for _, node := range p.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

// NodeByName resolves a node by its name, falling back to its id.
func (p Pipeline) NodeByName(name string) (Node, bool) {
	name = strings.TrimSpace(name)
	for _, node := range p.Nodes {
		if node.Name == name {
			return node, true
		}
	}
	return p.Node(name)
}

// ValidateBasicShape performs structural checks without graph traversal.
func (p Pipeline) ValidateBasicShape() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("pipeline id is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("pipeline title is required")
	}
	for i, node := range p.Nodes {
		if strings.TrimSpace(node.ID) == "" {
			return fmt.Errorf("node[%d] id is required", i)
		}
		if strings.TrimSpace(node.AnalysisVersionID) == "" {
			return fmt.Errorf("node[%d] analysis version is required", i)
		}
	}
	for i, pipe := range p.Pipes {
		if strings.TrimSpace(pipe.SourceID) == "" || strings.TrimSpace(pipe.DestinationID) == "" {
			return fmt.Errorf("pipe[%d] must specify source and destination", i)
		}
		if strings.TrimSpace(pipe.SourcePort) == "" || strings.TrimSpace(pipe.DestinationPort) == "" {
			return fmt.Errorf("pipe[%d] must specify source and destination ports", i)
		}
	}
	return nil
}
