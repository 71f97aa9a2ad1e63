// Package vartree tracks the schema of variables observable on the wire.
//
// The tree is a flat slice indexed by VarID. Entries are append-only for
// the life of a session and never relocate, so a VarID handed out once is
// valid forever and always resolves to the same variable.
package vartree

import (
	"fmt"

	"github.com/hxyulin/datavis/pipeline"
)

// VarType is the wire type of a variable.
type VarType int

const (
	TypeU8 VarType = iota
	TypeU16
	TypeU32
	TypeU64
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeF32
	TypeF64
)

func (t VarType) String() string {
	switch t {
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

// Node is one variable entry. Parent forms the tree; root entries have
// Parent == InvalidVarID.
type Node struct {
	Name   string
	Type   VarType
	Parent pipeline.VarID

	// Addr is the source address of the variable on the target, when the
	// probe reports one.
	Addr    uint64
	HasAddr bool

	// Live statistics, updated as samples flow.
	LastRaw       int64
	LastConverted float64
	LastUpdate    int64
}

// Snapshot is an immutable copy of one entry, shipped to the UI inside
// topology snapshots.
type Snapshot struct {
	ID            pipeline.VarID
	Name          string
	Type          VarType
	Parent        pipeline.VarID
	Addr          uint64
	HasAddr       bool
	LastRaw       int64
	LastConverted float64
	LastUpdate    int64
}

type childKey struct {
	parent pipeline.VarID
	name   string
}

// Tree is the variable tree. It is uniquely mutable from the pipeline
// worker; everything else sees snapshots.
type Tree struct {
	nodes []Node
	// byName resolves (parent, name) for idempotent interning.
	byName map[childKey]pipeline.VarID
	// children is maintained alongside the parent pointers so the UI can
	// enumerate downward without scanning.
	children map[pipeline.VarID][]pipeline.VarID
}

func New() *Tree {
	return &Tree{
		byName:   make(map[childKey]pipeline.VarID),
		children: make(map[pipeline.VarID][]pipeline.VarID),
	}
}

// Len returns the number of entries.
func (t *Tree) Len() int { return len(t.nodes) }

// Intern returns the id for (parent, name), allocating a new entry when
// none exists. The returned id is stable for the life of the tree.
func (t *Tree) Intern(name string, typ VarType, parent pipeline.VarID) (pipeline.VarID, error) {
	if name == "" {
		return pipeline.InvalidVarID, &pipeline.VariableTreeError{Message: "empty variable name"}
	}
	if parent.IsValid() && parent.Index() >= len(t.nodes) {
		return pipeline.InvalidVarID, &pipeline.VariableTreeError{
			Message: fmt.Sprintf("parent %v does not exist", parent),
		}
	}
	key := childKey{parent: parent, name: name}
	if id, ok := t.byName[key]; ok {
		return id, nil
	}
	id := pipeline.VarID(len(t.nodes))
	t.nodes = append(t.nodes, Node{
		Name:   name,
		Type:   typ,
		Parent: parent,
	})
	t.byName[key] = id
	t.children[parent] = append(t.children[parent], id)
	return id, nil
}

// SetAddr records the source address for a variable.
func (t *Tree) SetAddr(id pipeline.VarID, addr uint64) {
	if n := t.node(id); n != nil {
		n.Addr = addr
		n.HasAddr = true
	}
}

// Lookup resolves a path of names from the root, returning false when any
// segment is missing.
func (t *Tree) Lookup(path ...string) (pipeline.VarID, bool) {
	if len(path) == 0 {
		return pipeline.InvalidVarID, false
	}
	parent := pipeline.InvalidVarID
	var id pipeline.VarID
	for _, name := range path {
		next, ok := t.byName[childKey{parent: parent, name: name}]
		if !ok {
			return pipeline.InvalidVarID, false
		}
		id = next
		parent = next
	}
	return id, true
}

// Name returns the name of a variable, or "" for an unknown id.
func (t *Tree) Name(id pipeline.VarID) string {
	if n := t.node(id); n != nil {
		return n.Name
	}
	return ""
}

// Get returns a copy of the entry for id.
func (t *Tree) Get(id pipeline.VarID) (Node, bool) {
	if n := t.node(id); n != nil {
		return *n, true
	}
	return Node{}, false
}

// Children returns the ids of the direct children of id. Pass
// InvalidVarID for the roots.
func (t *Tree) Children(id pipeline.VarID) []pipeline.VarID {
	return t.children[id]
}

// Path returns the names from the root down to id. The parent chain is
// acyclic by construction (children always intern after their parents),
// so the walk terminates.
func (t *Tree) Path(id pipeline.VarID) []string {
	var rev []string
	for id.IsValid() {
		n := t.node(id)
		if n == nil {
			break
		}
		rev = append(rev, n.Name)
		id = n.Parent
	}
	path := make([]string, len(rev))
	for i, s := range rev {
		path[len(rev)-1-i] = s
	}
	return path
}

// UpdateStat records the latest observed value of a variable.
func (t *Tree) UpdateStat(id pipeline.VarID, raw int64, converted float64, ts int64) {
	if n := t.node(id); n != nil {
		n.LastRaw = raw
		n.LastConverted = converted
		n.LastUpdate = ts
	}
}

// Snapshot returns an immutable copy of every entry, in id order.
func (t *Tree) Snapshot() []Snapshot {
	out := make([]Snapshot, len(t.nodes))
	for i := range t.nodes {
		n := &t.nodes[i]
		out[i] = Snapshot{
			ID:            pipeline.VarID(i),
			Name:          n.Name,
			Type:          n.Type,
			Parent:        n.Parent,
			Addr:          n.Addr,
			HasAddr:       n.HasAddr,
			LastRaw:       n.LastRaw,
			LastConverted: n.LastConverted,
			LastUpdate:    n.LastUpdate,
		}
	}
	return out
}

func (t *Tree) node(id pipeline.VarID) *Node {
	if !id.IsValid() || id.Index() >= len(t.nodes) {
		return nil
	}
	return &t.nodes[id.Index()]
}
