package store

import (
	"errors"

	"bracket-qos/pkg/consul"
	"bracket-qos/pkg/model"
)

// ConsulLimitsVersionKey is bumped on every override change in the consul
// store; daemons may long-poll it instead of holding a websocket.
const ConsulLimitsVersionKey = consul.LimitsVersionKey

// ErrInvalidLimit rejects overrides without an id.
var ErrInvalidLimit = errors.New("limit id is required")

// BusStore persists what the manager receives from shaper daemons and the
// overrides it serves back to them.
type BusStore interface {
	SaveTree(model.TreeReport) error
	SaveDuplicates(model.DuplicateIPReport) error
	SaveUnmapped(model.UnmappedReport) error
	Reports() (model.BusReports, error)

	ShaperConfig() (model.ShaperConfig, error)
	UpsertSiteLimit(model.SiteLimit) error
	UpsertAPLimit(model.APLimit) error
	// LimitsVersion increases by one on every override upsert.
	LimitsVersion() (int64, error)

	Ping() error
}

// NewMemory is a helper to construct the in-memory implementation without importing it directly.
func NewMemory() BusStore {
	return NewMemoryStore()
}
