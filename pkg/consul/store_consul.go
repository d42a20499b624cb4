//go:build consul

package consul

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"

	"bracket-qos/pkg/model"
)

var errNotConfigured = errors.New("consul client not configured")

// Store is a Consul KV backed bus store.
type Store struct {
	cli *consulapi.Client
}

func NewStore(addr string) (*Store, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Store{cli: cli}, nil
}

func (s *Store) put(key string, v any) error {
	if s.cli == nil {
		return errNotConfigured
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

// get decodes key into out and reports whether it existed.
func (s *Store) get(key string, out any) (bool, error) {
	if s.cli == nil {
		return false, errNotConfigured
	}
	kv, _, err := s.cli.KV().Get(key, nil)
	if err != nil || kv == nil {
		return false, err
	}
	return true, json.Unmarshal(kv.Value, out)
}

func (s *Store) SaveTree(r model.TreeReport) error {
	return s.put(reportPrefix+"tree", r)
}

func (s *Store) SaveDuplicates(r model.DuplicateIPReport) error {
	return s.put(reportPrefix+"duplicate_ip", r)
}

func (s *Store) SaveUnmapped(r model.UnmappedReport) error {
	return s.put(reportPrefix+"unmapped_clients", r)
}

func (s *Store) Reports() (model.BusReports, error) {
	var (
		out  model.BusReports
		tree model.TreeReport
		dup  model.DuplicateIPReport
		lost model.UnmappedReport
	)
	if ok, err := s.get(reportPrefix+"tree", &tree); err != nil {
		return out, err
	} else if ok {
		out.Tree = &tree
	}
	if ok, err := s.get(reportPrefix+"duplicate_ip", &dup); err != nil {
		return out, err
	} else if ok {
		out.Duplicates = &dup
	}
	if ok, err := s.get(reportPrefix+"unmapped_clients", &lost); err != nil {
		return out, err
	} else if ok {
		out.Unmapped = &lost
	}
	return out, nil
}

func list[T any](s *Store, prefix string) ([]T, error) {
	if s.cli == nil {
		return nil, errNotConfigured
	}
	pairs, _, err := s.cli.KV().List(prefix, nil)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(pairs))
	for _, p := range pairs {
		var v T
		if err := json.Unmarshal(p.Value, &v); err == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) ShaperConfig() (model.ShaperConfig, error) {
	sites, err := list[model.SiteLimit](s, sitePrefix)
	if err != nil {
		return model.ShaperConfig{}, err
	}
	aps, err := list[model.APLimit](s, apPrefix)
	if err != nil {
		return model.ShaperConfig{}, err
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].ID < sites[j].ID })
	sort.Slice(aps, func(i, j int) bool { return aps[i].ID < aps[j].ID })
	return model.ShaperConfig{Sites: sites, AccessPoints: aps}, nil
}

func (s *Store) UpsertSiteLimit(l model.SiteLimit) error {
	if l.ID == "" {
		return errors.New("limit id is required")
	}
	if err := s.put(sitePrefix+l.ID, l); err != nil {
		return err
	}
	return s.bumpVersion()
}

func (s *Store) UpsertAPLimit(l model.APLimit) error {
	if l.ID == "" {
		return errors.New("limit id is required")
	}
	if err := s.put(apPrefix+l.ID, l); err != nil {
		return err
	}
	return s.bumpVersion()
}

// bumpVersion increments the version key with check-and-set so concurrent
// managers never lose an increment.
func (s *Store) bumpVersion() error {
	for attempt := 0; attempt < 5; attempt++ {
		kv, _, err := s.cli.KV().Get(LimitsVersionKey, nil)
		if err != nil {
			return err
		}
		next := &consulapi.KVPair{Key: LimitsVersionKey, Value: []byte("1")}
		if kv != nil {
			v, _ := strconv.ParseInt(string(kv.Value), 10, 64)
			next.Value = []byte(strconv.FormatInt(v+1, 10))
			next.ModifyIndex = kv.ModifyIndex
		}
		ok, _, err := s.cli.KV().CAS(next, nil)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("limits version CAS failed")
}

func (s *Store) LimitsVersion() (int64, error) {
	if s.cli == nil {
		return 0, errNotConfigured
	}
	kv, _, err := s.cli.KV().Get(LimitsVersionKey, nil)
	if err != nil || kv == nil {
		return 0, err
	}
	return strconv.ParseInt(string(kv.Value), 10, 64)
}

// Ping reports whether the agent has a raft leader.
func (s *Store) Ping() error {
	if s.cli == nil {
		return errNotConfigured
	}
	_, err := s.cli.Status().Leader()
	return err
}
