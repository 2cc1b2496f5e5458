package trace

import (
	"encoding/json"
	"math"
	"sync"

	"github.com/metalagman/proctor/internal/model"
)

// Builder assigns node identity and tree edges, and accumulates the flat
// trace in chronological order. One builder serves a whole task run,
// including all delegated child contexts.
type Builder struct {
	mu       sync.Mutex
	children map[NodeID]int
	nodes    []Node
}

// NewBuilder returns an empty trace builder.
func NewBuilder() *Builder {
	return &Builder{children: make(map[NodeID]int)}
}

// NextID allocates the next child id under parent. Root steps use the
// empty parent id. Sibling counters are tracked per parent so ids stay
// dense and chronological within a context.
func (b *Builder) NextID(parent NodeID) NodeID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.children[parent]++
	return parent.Child(b.children[parent])
}

// StepInput carries everything needed to record one agent step.
type StepInput struct {
	ID            NodeID
	Parent        NodeID // context parent; "" for root context
	PrevSibling   NodeID // previous step in the same context; "" for the first
	FirstInBranch bool   // true for the first node of a delegated child context
	Role          string
	SystemPrompt  string
	InputMessages []model.Message
	Output        json.RawMessage
	Reasoning     string
	TimingSec     float64
	ToolCalls     []ToolCallRecord
	Delegation    *DelegationResult
}

// RecordStep appends an agent step node. Exactly one of the parent edge
// (first node of a new branch) or the previous-sibling edge (every later
// node) is set; a root first node carries neither.
func (b *Builder) RecordStep(in StepInput) Node {
	n := Node{
		Kind:          KindAgentStep,
		ID:            in.ID,
		Depth:         in.ID.Depth(),
		Role:          in.Role,
		SystemPrompt:  in.SystemPrompt,
		InputMessages: append([]model.Message(nil), in.InputMessages...),
		Output:        in.Output,
		TimingSec:     roundTiming(in.TimingSec),
		ToolCalls:     in.ToolCalls,
		Delegation:    in.Delegation,
	}
	if in.Reasoning != "" {
		r := in.Reasoning
		n.Reasoning = &r
	}
	switch {
	case in.PrevSibling != "":
		prev := in.PrevSibling
		n.PrevSiblingID = &prev
	case in.FirstInBranch && in.Parent != "":
		parent := in.Parent
		n.ParentID = &parent
	}
	b.append(n)
	return n
}

// AnnotationInput carries everything needed to record a validator
// annotation for one validated action attempt.
type AnnotationInput struct {
	Validates     NodeID
	Role          string
	Passed        bool
	SystemPrompt  string
	InputMessages []model.Message
	Output        json.RawMessage
	Reasoning     string
	TimingSec     float64
}

// RecordAnnotation appends a validator annotation. The node id is
// allocated under the validated node, but the entry carries no
// parent/sibling edge: it points at its subject via ValidatesNodeID only,
// keeping the primary tree aligned with the agent's actual decision path.
func (b *Builder) RecordAnnotation(in AnnotationInput) Node {
	validates := in.Validates
	passed := in.Passed
	n := Node{
		Kind:            KindValidatorStep,
		ID:              b.NextID(in.Validates),
		Depth:           in.Validates.Depth() + 1,
		Role:            in.Role,
		SystemPrompt:    in.SystemPrompt,
		InputMessages:   append([]model.Message(nil), in.InputMessages...),
		Output:          in.Output,
		TimingSec:       roundTiming(in.TimingSec),
		ValidatesNodeID: &validates,
		Passed:          &passed,
	}
	if in.Reasoning != "" {
		r := in.Reasoning
		n.Reasoning = &r
	}
	b.append(n)
	return n
}

func (b *Builder) append(n Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = append(b.nodes, n)
}

// Nodes returns the accumulated flat trace in chronological order.
func (b *Builder) Nodes() []Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Node(nil), b.nodes...)
}

// Len reports the number of recorded nodes.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}

func roundTiming(sec float64) float64 {
	return math.Round(sec*100) / 100
}
