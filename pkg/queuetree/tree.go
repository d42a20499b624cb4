// Package queuetree holds the shaping hierarchy produced by one build: a
// forest with one root per CPU lane.
package queuetree

import (
	"errors"
	"fmt"
)

// LaneCount is the number of usable queues on each shaped interface.
type LaneCount struct {
	ToISP      uint32 `json:"to_isp"`
	ToInternet uint32 `json:"to_internet"`
}

// Usable is the number of lanes a tree gets.
func (c LaneCount) Usable() uint32 { return min(c.ToISP, c.ToInternet) }

// QueueTree is the output of a build and the input of the compiler.
type QueueTree struct {
	Lanes    LaneCount         `json:"lane_count"`
	IPToSite map[string]string `json:"ip_to_site"`
	Queues   []*Node           `json:"queues"`
}

var ErrNoLanes = errors.New("queue tree has no lanes")

// New returns a tree with one empty root per usable lane, ids 1..n.
func New(c LaneCount) *QueueTree {
	t := &QueueTree{Lanes: c, IPToSite: map[string]string{}}
	for i := uint32(1); i <= c.Usable(); i++ {
		t.Queues = append(t.Queues, NewLane(i))
	}
	return t
}

// LaneTotal returns the number of lane roots.
func (t *QueueTree) LaneTotal() int { return len(t.Queues) }

// Attach places n under the lane at index lane (0-based).
func (t *QueueTree) Attach(lane int, n *Node) error {
	if len(t.Queues) == 0 {
		return ErrNoLanes
	}
	if lane < 0 || lane >= len(t.Queues) {
		return fmt.Errorf("lane index %d out of range [0,%d)", lane, len(t.Queues))
	}
	if n.Kind == KindLane {
		return fmt.Errorf("cannot attach lane %d under a lane", n.LaneID)
	}
	t.Queues[lane].Add(n)
	return nil
}

// MapIPs records ip -> site for every address of a client.
func (t *QueueTree) MapIPs(siteID string, ips []string) {
	if t.IPToSite == nil {
		t.IPToSite = map[string]string{}
	}
	for _, ip := range ips {
		t.IPToSite[ip] = siteID
	}
}

// Validate checks the lane invariant and that every node has a known kind.
func (t *QueueTree) Validate() error {
	if uint32(len(t.Queues)) != t.Lanes.Usable() {
		return fmt.Errorf("tree has %d lanes, expected %d", len(t.Queues), t.Lanes.Usable())
	}
	for i, q := range t.Queues {
		if q.Kind != KindLane {
			return fmt.Errorf("queue %d is a %s, not a lane", i, q.Kind)
		}
		if err := q.check(); err != nil {
			return err
		}
	}
	return nil
}

// Walk visits every non-lane node in pre-order.
func (t *QueueTree) Walk(fn func(lane uint32, parent, n *Node) error) error {
	var visit func(lane uint32, parent, n *Node) error
	visit = func(lane uint32, parent, n *Node) error {
		if err := fn(lane, parent, n); err != nil {
			return err
		}
		for _, ch := range n.Children {
			if err := visit(lane, n, ch); err != nil {
				return err
			}
		}
		return nil
	}
	for _, q := range t.Queues {
		for _, ch := range q.Children {
			if err := visit(q.LaneID, q, ch); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clients counts client nodes in the whole tree.
func (t *QueueTree) Clients() int {
	c := 0
	for _, q := range t.Queues {
		c += q.Clients()
	}
	return c
}

// RoundRobin hands out lane indexes in turn. It belongs to a single build.
type RoundRobin struct {
	n    int
	next int
}

func (t *QueueTree) RoundRobin() *RoundRobin { return &RoundRobin{n: len(t.Queues)} }

// Next returns the next lane index.
func (r *RoundRobin) Next() int {
	if r.n == 0 {
		return 0
	}
	i := r.next
	r.next = (r.next + 1) % r.n
	return i
}
