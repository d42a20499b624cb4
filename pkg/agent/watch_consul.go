//go:build consul

package agent

import (
	"context"
	"strconv"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"k8s.io/klog/v2"

	"bracket-qos/pkg/store"
)

// ConsulWatchBuilt reports whether this binary carries the consul watcher.
func ConsulWatchBuilt() bool { return true }

// WatchLimitsVersion long-polls the overrides version key in the background
// and calls onChange each time it moves past the first value seen.
func WatchLimitsVersion(ctx context.Context, addr, token string, onChange func(version int64)) error {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	if token != "" {
		cfg.Token = token
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return err
	}
	go func() {
		q := (&consulapi.QueryOptions{WaitTime: time.Minute}).WithContext(ctx)
		var last int64 = -1
		for ctx.Err() == nil {
			kv, meta, err := cli.KV().Get(store.ConsulLimitsVersionKey, q)
			if err != nil {
				klog.V(2).Infof("consul watch %s: %v", store.ConsulLimitsVersionKey, err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
				continue
			}
			q.WaitIndex = meta.LastIndex
			if kv == nil {
				continue
			}
			v, parseErr := strconv.ParseInt(string(kv.Value), 10, 64)
			if parseErr == nil && v != last {
				if last >= 0 {
					onChange(v)
				}
				last = v
			}
		}
	}()
	return nil
}
