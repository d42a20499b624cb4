package queuetree

import "fmt"

// PropagateMaximums clamps every node's caps to those of its ancestors,
// starting from the per-lane totals. Running it again changes nothing.
func PropagateMaximums(t *QueueTree, totalDown, totalUp uint32) error {
	var visit func(n *Node, down, up uint32) error
	visit = func(n *Node, down, up uint32) error {
		switch n.Kind {
		case KindLane:
			return fmt.Errorf("propagate: lane %d below a lane", n.LaneID)
		case KindTower, KindAccessPoint, KindClient:
			n.DownMbps = min(n.DownMbps, down)
			n.UpMbps = min(n.UpMbps, up)
		default:
			return fmt.Errorf("propagate: %w: %d", ErrUnknownKind, uint8(n.Kind))
		}
		for _, ch := range n.Children {
			if err := visit(ch, n.DownMbps, n.UpMbps); err != nil {
				return err
			}
		}
		return nil
	}
	for _, q := range t.Queues {
		for _, ch := range q.Children {
			if err := visit(ch, totalDown, totalUp); err != nil {
				return err
			}
		}
	}
	return nil
}

// DuplicateIPs returns, in discovery order, each client address seen after
// its first occurrence. An address shared by n clients appears n-1 times.
func DuplicateIPs(t *QueueTree) ([]string, error) {
	seen := map[string]struct{}{}
	var dupes []string
	err := t.Walk(func(_ uint32, _, n *Node) error {
		switch n.Kind {
		case KindTower, KindAccessPoint:
			return nil
		case KindClient:
			for _, ip := range n.IPs {
				if _, ok := seen[ip]; ok {
					dupes = append(dupes, ip)
					continue
				}
				seen[ip] = struct{}{}
			}
			return nil
		case KindLane:
			return fmt.Errorf("duplicate audit: lane %d below a lane", n.LaneID)
		default:
			return fmt.Errorf("duplicate audit: %w: %d", ErrUnknownKind, uint8(n.Kind))
		}
	})
	return dupes, err
}
