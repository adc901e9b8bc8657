package registry

import (
	radix "github.com/armon/go-radix"
)

// namedIndex maps dotted handler names (e.g. "echo.v1") to the set of
// currently active entry ids registered under that name, backed by a radix
// tree so CountPrefix answers in O(k) over the prefix length rather than a
// full scan of every entry. Only populated when a caller ever uses
// SpawnNamed.
type namedIndex struct {
	tree *radix.Tree
}

func newNamedIndex() *namedIndex {
	return &namedIndex{tree: radix.New()}
}

func (n *namedIndex) insert(name string, id uint64) {
	v, ok := n.tree.Get(name)
	var set map[uint64]struct{}
	if ok {
		set = v.(map[uint64]struct{})
	} else {
		set = make(map[uint64]struct{})
	}
	set[id] = struct{}{}
	n.tree.Insert(name, set)
}

func (n *namedIndex) remove(name string, id uint64) {
	v, ok := n.tree.Get(name)
	if !ok {
		return
	}
	set := v.(map[uint64]struct{})
	delete(set, id)
	if len(set) == 0 {
		n.tree.Delete(name)
		return
	}
	n.tree.Insert(name, set)
}

func (n *namedIndex) countPrefix(prefix string) int {
	count := 0
	n.tree.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		count += len(v.(map[uint64]struct{}))
		return false
	})
	return count
}
