package agent

import (
	"maps"
	"sync"
	"time"

	"bracket-qos/pkg/compiler"
	"bracket-qos/pkg/queuetree"
)

// State is what the reconciliation loop knows about the shaping currently
// applied to the host. It starts empty and is replaced wholesale after each
// apply. Only the loop writes it.
type State struct {
	mu         sync.RWMutex
	treeHash   string
	limitsHash string
	tree       *queuetree.QueueTree
	queueSites map[compiler.Handle]string
	ipSites    map[string]string
	appliedAt  time.Time
}

func (s *State) set(tree *queuetree.QueueTree, treeHash, limitsHash string, res compiler.Result, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = tree
	s.treeHash = treeHash
	s.limitsHash = limitsHash
	s.queueSites = res.QueueSites
	s.ipSites = res.IPSites
	s.appliedAt = at
}

// Hashes returns the tree and overrides hashes of the applied state.
func (s *State) Hashes() (tree, limits string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.treeHash, s.limitsHash
}

// Applied reports whether any state has been applied yet.
func (s *State) Applied() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree != nil
}

// Tree returns the applied tree. Callers must not modify it.
func (s *State) Tree() *queuetree.QueueTree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree
}

// QueueSite attributes a compiled class to its site.
func (s *State) QueueSite(h compiler.Handle) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.queueSites[h]
	return id, ok
}

// IPSites returns a copy of the ip -> site map of the applied tree.
func (s *State) IPSites() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.ipSites)
}

func (s *State) AppliedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appliedAt
}
