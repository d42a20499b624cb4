package shaper

import (
	"bytes"
	"fmt"
	"os"

	"github.com/vishvananda/netlink"
	"k8s.io/klog/v2"

	"bracket-qos/pkg/queuetree"
)

// HypervisorLaneCap bounds the lane count on virtual machines, whose
// virtio queues outnumber the useful CPUs.
const HypervisorLaneCap = 9

// LaneCounter counts transmit queues on the shaped interfaces.
type LaneCounter struct {
	LinkByName func(name string) (netlink.Link, error)
	CPUInfo    string
	// Pinned, when non-zero, is used for both interfaces.
	Pinned uint32
}

func NewLaneCounter(pinned uint32) *LaneCounter {
	return &LaneCounter{LinkByName: netlink.LinkByName, CPUInfo: "/proc/cpuinfo", Pinned: pinned}
}

// Count returns the usable queue count of each interface.
func (c *LaneCounter) Count(toISP, toInternet string) (queuetree.LaneCount, error) {
	if c.Pinned > 0 {
		return queuetree.LaneCount{ToISP: c.Pinned, ToInternet: c.Pinned}, nil
	}
	isp, err := c.queues(toISP)
	if err != nil {
		return queuetree.LaneCount{}, err
	}
	inet, err := c.queues(toInternet)
	if err != nil {
		return queuetree.LaneCount{}, err
	}
	if c.inHypervisor() {
		isp, inet = min(isp, HypervisorLaneCap), min(inet, HypervisorLaneCap)
	}
	klog.Infof("queue count: %s=%d %s=%d", toISP, isp, toInternet, inet)
	return queuetree.LaneCount{ToISP: isp, ToInternet: inet}, nil
}

func (c *LaneCounter) queues(dev string) (uint32, error) {
	link, err := c.LinkByName(dev)
	if err != nil {
		return 0, fmt.Errorf("lookup %s: %w", dev, err)
	}
	n := link.Attrs().NumTxQueues
	if n <= 0 {
		return 0, fmt.Errorf("%s reports no transmit queues", dev)
	}
	return uint32(n), nil
}

func (c *LaneCounter) inHypervisor() bool {
	b, err := os.ReadFile(c.CPUInfo)
	if err != nil {
		klog.V(2).Infof("read %s: %v", c.CPUInfo, err)
		return false
	}
	return bytes.Contains(b, []byte("hypervisor"))
}
