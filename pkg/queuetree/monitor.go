package queuetree

import (
	"fmt"
	"slices"

	"bracket-qos/pkg/model"
)

// MonitorTree flattens the tree for the monitoring export. Entry 0 is a
// synthetic root carrying the total capacity; lanes are not emitted and their
// children hang off the root. Every parent index points to an earlier entry.
func (t *QueueTree) MonitorTree(downMbps, upMbps uint32) ([]model.MonitorTreeEntry, error) {
	out := []model.MonitorTreeEntry{{
		Name:        "Root",
		ID:          "0",
		LevelType:   model.LevelRoot,
		DownMbps:    downMbps,
		UpMbps:      upMbps,
		IPAddresses: []string{},
	}}
	var visit func(parent int, n *Node) error
	visit = func(parent int, n *Node) error {
		var level string
		switch n.Kind {
		case KindLane:
			return fmt.Errorf("monitor: lane %d below root", n.LaneID)
		case KindTower:
			level = model.LevelTower
		case KindAccessPoint:
			level = model.LevelAP
		case KindClient:
			level = model.LevelClient
		default:
			return fmt.Errorf("monitor: %w: %d", ErrUnknownKind, uint8(n.Kind))
		}
		p := parent
		ips := slices.Clone(n.IPs)
		if ips == nil {
			ips = []string{}
		}
		out = append(out, model.MonitorTreeEntry{
			Name:        n.Name,
			ID:          n.SiteID,
			LevelType:   level,
			Parent:      &p,
			DownMbps:    n.DownMbps,
			UpMbps:      n.UpMbps,
			IPAddresses: ips,
		})
		idx := len(out) - 1
		for _, ch := range n.Children {
			if err := visit(idx, ch); err != nil {
				return err
			}
		}
		return nil
	}
	for _, q := range t.Queues {
		if q.Kind != KindLane {
			return nil, fmt.Errorf("monitor: top-level %s is not a lane", q.Kind)
		}
		for _, ch := range q.Children {
			if err := visit(0, ch); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
