//go:build !consul

package store

import (
	"k8s.io/klog/v2"
)

// NewConsulStore falls back to memory when the consul build tag is off.
func NewConsulStore(addr string) (BusStore, error) {
	klog.Warningf("consul store requested (addr=%s) but binary built without the consul tag; using memory store", addr)
	return NewMemoryStore(), nil
}
