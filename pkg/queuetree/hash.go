package queuetree

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"slices"

	"golang.org/x/crypto/blake2b"
)

// Hash returns a hex blake2b-256 digest of the tree's structure: lane counts,
// node kinds, lane ids, site ids, caps, IP sets and child order. Names and
// the ip->site index are not part of it.
func (t *QueueTree) Hash() (string, error) {
	h, _ := blake2b.New256(nil)
	writeUint(h, uint64(t.Lanes.ToISP))
	writeUint(h, uint64(t.Lanes.ToInternet))
	writeUint(h, uint64(len(t.Queues)))
	for _, q := range t.Queues {
		if err := hashNode(h, q); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashNode(h hash.Hash, n *Node) error {
	switch n.Kind {
	case KindLane:
		writeUint(h, uint64(n.Kind))
		writeUint(h, uint64(n.LaneID))
	case KindTower, KindAccessPoint:
		writeUint(h, uint64(n.Kind))
		writeString(h, n.SiteID)
		writeUint(h, uint64(n.DownMbps))
		writeUint(h, uint64(n.UpMbps))
	case KindClient:
		writeUint(h, uint64(n.Kind))
		writeString(h, n.SiteID)
		writeUint(h, uint64(n.DownMbps))
		writeUint(h, uint64(n.UpMbps))
		ips := slices.Clone(n.IPs)
		slices.Sort(ips)
		ips = slices.Compact(ips)
		writeUint(h, uint64(len(ips)))
		for _, ip := range ips {
			writeString(h, ip)
		}
	default:
		return fmt.Errorf("hash: %w: %d", ErrUnknownKind, uint8(n.Kind))
	}
	writeUint(h, uint64(len(n.Children)))
	for _, ch := range n.Children {
		if err := hashNode(h, ch); err != nil {
			return err
		}
	}
	return nil
}

func writeUint(h hash.Hash, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	h.Write(b[:])
}

func writeString(h hash.Hash, s string) {
	writeUint(h, uint64(len(s)))
	h.Write([]byte(s))
}
