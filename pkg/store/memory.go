package store

import (
	"sort"
	"sync"

	"bracket-qos/pkg/model"
)

// MemoryStore keeps everything in process, for dev and single-node setups.
type MemoryStore struct {
	mu      sync.RWMutex
	reports model.BusReports
	sites   map[string]model.SiteLimit
	aps     map[string]model.APLimit
	version int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites: make(map[string]model.SiteLimit),
		aps:   make(map[string]model.APLimit),
	}
}

func (m *MemoryStore) SaveTree(r model.TreeReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports.Tree = &r
	return nil
}

func (m *MemoryStore) SaveDuplicates(r model.DuplicateIPReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports.Duplicates = &r
	return nil
}

func (m *MemoryStore) SaveUnmapped(r model.UnmappedReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports.Unmapped = &r
	return nil
}

func (m *MemoryStore) Reports() (model.BusReports, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reports, nil
}

func (m *MemoryStore) ShaperConfig() (model.ShaperConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := model.ShaperConfig{
		Sites:        make([]model.SiteLimit, 0, len(m.sites)),
		AccessPoints: make([]model.APLimit, 0, len(m.aps)),
	}
	for _, l := range m.sites {
		cfg.Sites = append(cfg.Sites, l)
	}
	for _, l := range m.aps {
		cfg.AccessPoints = append(cfg.AccessPoints, l)
	}
	sort.Slice(cfg.Sites, func(i, j int) bool { return cfg.Sites[i].ID < cfg.Sites[j].ID })
	sort.Slice(cfg.AccessPoints, func(i, j int) bool { return cfg.AccessPoints[i].ID < cfg.AccessPoints[j].ID })
	return cfg, nil
}

func (m *MemoryStore) UpsertSiteLimit(l model.SiteLimit) error {
	if l.ID == "" {
		return ErrInvalidLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites[l.ID] = l
	m.version++
	return nil
}

func (m *MemoryStore) UpsertAPLimit(l model.APLimit) error {
	if l.ID == "" {
		return ErrInvalidLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aps[l.ID] = l
	m.version++
	return nil
}

func (m *MemoryStore) LimitsVersion() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version, nil
}

// Ping reports readiness for health endpoints.
func (m *MemoryStore) Ping() error { return nil }
