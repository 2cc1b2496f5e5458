// Package trace models the execution trace: a flat, ordered collection of
// nodes from which the full decision tree is reconstructible by a single
// sort-and-link pass.
package trace

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/metalagman/proctor/internal/model"
)

// Node kinds.
const (
	KindAgentStep     = "agent_step"
	KindValidatorStep = "validator_step"
)

// NodeID is a hierarchical dotted identifier: root steps are "1", "2", ...;
// children of step "2" are "2.1", "2.2"; a validator annotation under
// "2.1" is "2.1.1". Segments compare numerically, not lexicographically.
type NodeID string

// Child returns the id of the n-th child (1-based) of id.
func (id NodeID) Child(n int) NodeID {
	if id == "" {
		return NodeID(strconv.Itoa(n))
	}
	return NodeID(string(id) + "." + strconv.Itoa(n))
}

// Depth is the nesting depth encoded by the id: 0 for root steps,
// +1 per delegation level.
func (id NodeID) Depth() int {
	if id == "" {
		return -1
	}
	return strings.Count(string(id), ".")
}

// Parent returns the id with its last segment removed, or "" for roots.
func (id NodeID) Parent() NodeID {
	i := strings.LastIndexByte(string(id), '.')
	if i < 0 {
		return ""
	}
	return id[:i]
}

// Less orders ids by numeric comparison of each dotted segment, so "2.10"
// sorts after "2.9" and the flat trace replays in structural order.
func (id NodeID) Less(other NodeID) bool {
	a := strings.Split(string(id), ".")
	b := strings.Split(string(other), ".")
	for i := 0; i < len(a) && i < len(b); i++ {
		av, aerr := strconv.Atoi(a[i])
		bv, berr := strconv.Atoi(b[i])
		if aerr != nil || berr != nil {
			if a[i] != b[i] {
				return a[i] < b[i]
			}
			continue
		}
		if av != bv {
			return av < bv
		}
	}
	return len(a) < len(b)
}

// ToolCallRecord is one executed request/response pair attached to a node.
type ToolCallRecord struct {
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response"`
}

// DelegationResult summarizes a completed delegation attached to the
// spawning node: the child's terminal status and report, never the child's
// internal nodes.
type DelegationResult struct {
	Role   string       `json:"role"`
	Status model.Status `json:"status"`
	Report string       `json:"report"`
}

// Node is one entry of the flat trace. An agent step participates in the
// tree through ParentID (first node of a delegated child) or PrevSiblingID
// (every later node of a context); the root has neither. A validator
// annotation instead points at the node it judged via ValidatesNodeID and
// never joins the parent/sibling chain.
type Node struct {
	Kind          string          `json:"event"`
	ID            NodeID          `json:"node_id"`
	ParentID      *NodeID         `json:"parent_node_id"`
	PrevSiblingID *NodeID         `json:"prev_sibling_node_id"`
	Depth         int             `json:"depth"`
	Role          string          `json:"role"`
	SystemPrompt  string          `json:"system_prompt"`
	InputMessages []model.Message `json:"input_messages"`
	Output        json.RawMessage `json:"output"`
	Reasoning     *string         `json:"reasoning"`
	TimingSec     float64         `json:"timing"`

	ToolCalls  []ToolCallRecord  `json:"tool_calls,omitempty"`
	Delegation *DelegationResult `json:"delegation_result,omitempty"`

	// Validator annotations only.
	ValidatesNodeID *NodeID `json:"validated_node_id,omitempty"`
	Passed          *bool   `json:"passed,omitempty"`
}
