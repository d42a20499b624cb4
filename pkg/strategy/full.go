package strategy

import (
	"bracket-qos/pkg/config"
	"bracket-qos/pkg/queuetree"
)

// Full builds tower -> access point -> client queues, including backhaul
// towers. Top-level items of every root tower are spread across lanes
// individually so one large site does not pin a single CPU.
type Full struct{}

func (Full) Name() config.Strategy { return config.StrategyFull }

func (Full) Build(in Input, tree *queuetree.QueueTree) (Result, error) {
	if err := checkLanes(tree); err != nil {
		return Result{}, err
	}
	h := reconstruct(in, in.addressIndex())
	e := emitter{in: in, tree: tree}
	rr := tree.RoundRobin()
	for _, root := range h.roots {
		for _, n := range e.items(root) {
			if err := attachNext(tree, rr, n); err != nil {
				return Result{}, err
			}
		}
	}
	return Result{Unmapped: h.unmappedNames()}, nil
}

type emitter struct {
	in   Input
	tree *queuetree.QueueTree
}

// items returns the direct queue children of a site: infrastructure, then
// access points, then child towers.
func (e emitter) items(s *vSite) []*queuetree.Node {
	var out []*queuetree.Node
	if len(s.infraIPs) > 0 {
		id := s.id + ".1"
		e.tree.MapIPs(id, s.infraIPs)
		out = append(out, queuetree.NewClient(s.name+" Infrastructure", id, s.down, s.up, s.infraIPs))
	}
	for _, g := range s.aps {
		down, up := e.in.Limits.APCaps(g.key.id, s.down, s.up)
		ap := queuetree.NewAccessPoint(g.key.name, g.key.id, down, up)
		for _, c := range g.clients {
			e.tree.MapIPs(c.id, c.ips)
			ap.Add(queuetree.NewClient(c.name, c.id, c.down, c.up, c.ips))
		}
		out = append(out, ap)
	}
	for _, ch := range s.children {
		tower := queuetree.NewTower(ch.name, ch.id, ch.down, ch.up)
		for _, n := range e.items(ch) {
			tower.Add(n)
		}
		out = append(out, tower)
	}
	return out
}
