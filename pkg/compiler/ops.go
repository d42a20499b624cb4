// Package compiler turns a queue tree into kernel shaping operations, one
// independent job per CPU lane.
package compiler

import (
	"context"
	"fmt"
)

// Minor ids reserved on every lane by the interface queue setup. The
// compiler allocates from FirstDynamicMinor upwards.
const (
	RootMinor         uint32 = 1
	DefaultMinor      uint32 = 2
	FirstDynamicMinor uint32 = 3
)

// ClassPrio is the htb priority of every compiled class.
const ClassPrio = 3

// Handle is a tc major:minor identifier. The major number is the lane id.
type Handle struct {
	Major uint32
	Minor uint32
}

// String formats the handle the way tc parses it (hexadecimal).
func (h Handle) String() string { return fmt.Sprintf("%x:%x", h.Major, h.Minor) }

// Devices names the two shaped interfaces. Download is shaped on the
// ISP-facing side, upload on the Internet-facing side.
type Devices struct {
	ToISP      string
	ToInternet string
}

// ClassOp creates or replaces an htb class.
type ClassOp struct {
	Dev      string
	Parent   Handle
	ClassID  Handle
	RateMbps uint32
	CeilMbps uint32
	Prio     uint8
}

// QdiscOp creates or replaces the leaf queueing discipline below a class.
type QdiscOp struct {
	Dev    string
	Parent Handle
}

// BindOp maps an address to a lane and class in the XDP classifier.
type BindOp struct {
	IP      string
	Lane    uint32
	ClassID Handle
}

// CPU is the zero-based CPU the lane is pinned to.
func (b BindOp) CPU() uint32 { return b.Lane - 1 }

// Sink applies operations. Implementations must have replace semantics: an
// operation for state that already exists is not an error.
type Sink interface {
	Class(ctx context.Context, op ClassOp) error
	Qdisc(ctx context.Context, op QdiscOp) error
	Bind(ctx context.Context, op BindOp) error
}

func aggregateRates(mbps uint32) (rate, ceil uint32) {
	return uint32(uint64(mbps) * 95 / 100), mbps
}

// clientRates gives a client half its cap guaranteed and 9% burst headroom
// above it, both rounded up.
func clientRates(mbps uint32) (rate, ceil uint32) {
	rate = uint32((uint64(mbps) + 1) / 2)
	ceil = uint32((uint64(mbps)*109 + 99) / 100)
	return rate, ceil
}
