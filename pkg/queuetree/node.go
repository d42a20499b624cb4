package queuetree

import (
	"errors"
	"fmt"
	"slices"
)

// Kind discriminates the four node variants.
type Kind uint8

const (
	KindLane Kind = iota + 1
	KindTower
	KindAccessPoint
	KindClient
)

// ErrUnknownKind is returned by every consumer that meets a node whose kind is
// not one of the four variants.
var ErrUnknownKind = errors.New("unknown node kind")

func (k Kind) String() string {
	switch k {
	case KindLane:
		return "cpu_lane"
	case KindTower:
		return "tower"
	case KindAccessPoint:
		return "access_point"
	case KindClient:
		return "client"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindLane, KindTower, KindAccessPoint, KindClient:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "cpu_lane":
		*k = KindLane
	case "tower":
		*k = KindTower
	case "access_point":
		*k = KindAccessPoint
	case "client":
		*k = KindClient
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, b)
	}
	return nil
}

// Node is one queue in the shaping hierarchy. LaneID is set only on lane
// roots, IPs only on clients. Children keep insertion order.
type Node struct {
	Kind     Kind     `json:"kind"`
	Name     string   `json:"name"`
	LaneID   uint32   `json:"lane_id,omitempty"`
	SiteID   string   `json:"site_id,omitempty"`
	DownMbps uint32   `json:"down_mbps,omitempty"`
	UpMbps   uint32   `json:"up_mbps,omitempty"`
	IPs      []string `json:"ips,omitempty"`
	Children []*Node  `json:"children,omitempty"`
}

// NewLane returns the synthetic root of CPU lane id.
func NewLane(id uint32) *Node {
	return &Node{Kind: KindLane, Name: fmt.Sprintf("CPU %d", id), LaneID: id}
}

func NewTower(name, siteID string, down, up uint32) *Node {
	return &Node{Kind: KindTower, Name: name, SiteID: siteID, DownMbps: down, UpMbps: up}
}

func NewAccessPoint(name, siteID string, down, up uint32) *Node {
	return &Node{Kind: KindAccessPoint, Name: name, SiteID: siteID, DownMbps: down, UpMbps: up}
}

// NewClient returns a leaf; ips is stored as a sorted set.
func NewClient(name, siteID string, down, up uint32, ips []string) *Node {
	set := slices.Clone(ips)
	slices.Sort(set)
	return &Node{Kind: KindClient, Name: name, SiteID: siteID, DownMbps: down, UpMbps: up, IPs: slices.Compact(set)}
}

// Add appends child and returns it.
func (n *Node) Add(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// Clients counts the client nodes in the subtree rooted at n.
func (n *Node) Clients() int {
	c := 0
	if n.Kind == KindClient {
		c++
	}
	for _, ch := range n.Children {
		c += ch.Clients()
	}
	return c
}

func (n *Node) check() error {
	switch n.Kind {
	case KindLane, KindTower, KindAccessPoint, KindClient:
	default:
		return fmt.Errorf("%w: %d at %q", ErrUnknownKind, uint8(n.Kind), n.SiteID)
	}
	for _, ch := range n.Children {
		if ch.Kind == KindLane {
			return fmt.Errorf("lane %d nested under %q", ch.LaneID, n.SiteID)
		}
		if err := ch.check(); err != nil {
			return err
		}
	}
	return nil
}
