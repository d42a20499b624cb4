package strategy

import (
	"k8s.io/klog/v2"

	"bracket-qos/pkg/config"
	"bracket-qos/pkg/queuetree"
)

// Flat gives every site with an in-scope address its own client queue
// directly below a lane.
type Flat struct{}

func (Flat) Name() config.Strategy { return config.StrategyFlat }

func (Flat) Build(in Input, tree *queuetree.QueueTree) (Result, error) {
	if err := checkLanes(tree); err != nil {
		return Result{}, err
	}
	ips := in.addressIndex()
	rr := tree.RoundRobin()
	for _, s := range in.Topology.Sites {
		addrs := ips[s.ID]
		if len(addrs) == 0 {
			continue
		}
		var down, up uint32
		if s.IsClient() {
			down, up = in.clientCaps(s)
		} else {
			down, up = in.towerCaps(s.ID)
		}
		tree.MapIPs(s.ID, addrs)
		if err := attachNext(tree, rr, queuetree.NewClient(displayName(s), s.ID, down, up, addrs)); err != nil {
			return Result{}, err
		}
	}
	klog.Infof("strategy flat: mapped %d IPs", len(tree.IPToSite))
	return Result{}, nil
}
