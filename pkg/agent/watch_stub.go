//go:build !consul

package agent

import (
	"context"
	"errors"
)

// ConsulWatchBuilt reports whether this binary carries the consul watcher.
func ConsulWatchBuilt() bool { return false }

// WatchLimitsVersion needs the consul build tag.
func WatchLimitsVersion(_ context.Context, _, _ string, _ func(int64)) error {
	return errors.New("consul watch: binary built without the consul tag")
}
