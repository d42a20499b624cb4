package strategy

import (
	"bracket-qos/pkg/config"
	"bracket-qos/pkg/queuetree"
)

// SiteLevel builds one queue per tower with its client sites directly below.
type SiteLevel struct{}

func (SiteLevel) Name() config.Strategy { return config.StrategySite }

func (SiteLevel) Build(in Input, tree *queuetree.QueueTree) (Result, error) {
	if err := checkLanes(tree); err != nil {
		return Result{}, err
	}
	ips := in.addressIndex()
	rr := tree.RoundRobin()
	for _, s := range in.Topology.Sites {
		if !s.IsTower() {
			continue
		}
		down, up := in.towerCaps(s.ID)
		tower := queuetree.NewTower(displayName(s), s.ID, down, up)
		if infra := ips[s.ID]; len(infra) > 0 {
			id := s.ID + ".0"
			tree.MapIPs(id, infra)
			tower.Add(queuetree.NewClient(displayName(s)+" Infrastructure", id, down, up, infra))
		}
		for _, c := range in.Topology.Sites {
			if !c.IsClient() || !c.IsChildOf(s.ID) {
				continue
			}
			addrs := ips[c.ID]
			if len(addrs) == 0 {
				continue
			}
			cd, cu := in.clientCaps(c)
			tree.MapIPs(c.ID, addrs)
			tower.Add(queuetree.NewClient(displayName(c), c.ID, cd, cu, addrs))
		}
		if err := attachNext(tree, rr, tower); err != nil {
			return Result{}, err
		}
	}
	return Result{}, nil
}
