// Package strategy turns a topology snapshot into a populated queue tree.
// Three builders are available: flat, site-level and full hierarchy.
package strategy

import (
	"fmt"

	"k8s.io/klog/v2"

	"bracket-qos/pkg/config"
	"bracket-qos/pkg/ipmatch"
	"bracket-qos/pkg/limits"
	"bracket-qos/pkg/model"
	"bracket-qos/pkg/queuetree"
)

// Input is everything a builder reads. Nothing in it is modified.
type Input struct {
	Config   config.Config
	Topology model.Topology
	Limits   limits.Lookup
	Matcher  *ipmatch.Matcher
}

// Result carries builder side outputs that are reported, not shaped.
type Result struct {
	// Unmapped names clients placed under the synthetic parentless site.
	Unmapped []string
}

// Builder fills an empty tree with the lanes already created.
type Builder interface {
	Name() config.Strategy
	Build(in Input, tree *queuetree.QueueTree) (Result, error)
}

// ForName selects the builder for a configured strategy.
func ForName(s config.Strategy) (Builder, error) {
	switch s {
	case config.StrategyFlat:
		return Flat{}, nil
	case config.StrategySite:
		return SiteLevel{}, nil
	case config.StrategyFull:
		return Full{}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", s)
}

func displayName(s model.Site) string {
	if n := s.Name(); n != "" {
		return n
	}
	return "nameless"
}

// addressIndex is the relevant IP list of every site that owns one.
func (in Input) addressIndex() map[string][]string {
	m := in.Matcher
	if m == nil {
		m = ipmatch.New(in.Config.IncludeIPRanges, in.Config.IgnoreIPRanges)
	}
	return m.BySite(in.Topology.Devices)
}

func (in Input) internetCaps() (uint32, uint32) {
	return in.Config.InternetDownloadMbps, in.Config.InternetUploadMbps
}

// clientCaps resolves a client's bandwidth: site override, then advertised
// QoS, then the configured default.
func (in Input) clientCaps(s model.Site) (uint32, uint32) {
	down, up := s.QoSMbps(in.Config.DefaultDownloadMbps, in.Config.DefaultUploadMbps)
	return in.Limits.SiteCaps(s.ID, down, up)
}

// towerCaps resolves an aggregation site's bandwidth: site override, then the
// lane capacity.
func (in Input) towerCaps(id string) (uint32, uint32) {
	down, up := in.internetCaps()
	return in.Limits.SiteCaps(id, down, up)
}

func checkLanes(tree *queuetree.QueueTree) error {
	if tree.LaneTotal() == 0 {
		return queuetree.ErrNoLanes
	}
	return nil
}

func attachNext(tree *queuetree.QueueTree, rr *queuetree.RoundRobin, n *queuetree.Node) error {
	lane := rr.Next()
	klog.V(4).Infof("strategy: %s %s -> lane %d", n.Kind, n.SiteID, lane+1)
	return tree.Attach(lane, n)
}
