// Package agent keeps the host's shaping state in step with the network:
// it applies a tree at startup, then rebuilds on a timer and re-applies only
// when the tree or the overrides change.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"bracket-qos/pkg/compiler"
	"bracket-qos/pkg/limits"
	"bracket-qos/pkg/metrics"
	"bracket-qos/pkg/model"
	"bracket-qos/pkg/planner"
	"bracket-qos/pkg/queuetree"
	"bracket-qos/pkg/uisp"
)

// ErrNoShapingState means the daemon could neither build a tree nor load
// the last-known-good one, and must not start.
var ErrNoShapingState = errors.New("no shaping state available")

// Applier puts a compiled tree on the host.
type Applier interface {
	SetupXDP(ctx context.Context) error
	Teardown(ctx context.Context)
	SetupInterfaceQueues(ctx context.Context, lanes queuetree.LaneCount) error
	Devices() compiler.Devices
	Sink() compiler.Sink
}

type Loop struct {
	Source   uisp.Source
	Limits   *limits.Cache
	Planner  *planner.Planner
	Applier  Applier
	Journal  *Journal
	Metrics  *metrics.Shaper
	State    *State
	LKGPath  string
	Interval time.Duration
	// CountLanes, when set, is re-run before each Watching build so a
	// changed queue count reshapes the tree. Errors keep the previous count.
	CountLanes func() (queuetree.LaneCount, error)
	// Nudges triggers an immediate tick; may be nil.
	Nudges <-chan struct{}
	Now    func() time.Time
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loop) tick(outcome string) {
	if l.Metrics != nil {
		l.Metrics.Ticks.WithLabelValues(outcome).Inc()
	}
}

func (l *Loop) record(ctx context.Context, treeHash, limitsHash, outcome, detail string) {
	rec := model.ApplyRecord{TreeHash: treeHash, LimitsHash: limitsHash, Outcome: outcome, Detail: detail, Time: l.now().UTC()}
	if err := l.Journal.Record(ctx, rec); err != nil {
		klog.Warningf("journal: %v", err)
	}
}

func (l *Loop) refreshLimits(ctx context.Context) limits.Lookup {
	if err := l.Limits.Refresh(ctx); err != nil {
		klog.Warningf("limits refresh failed, keeping previous overrides: %v", err)
	}
	return l.Limits.Snapshot()
}

func (l *Loop) build(ctx context.Context, lim limits.Lookup) (*planner.Plan, error) {
	topo, err := l.Source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch topology: %w", err)
	}
	plan, err := l.Planner.Build(ctx, topo, lim)
	if err != nil {
		return nil, fmt.Errorf("build tree: %w", err)
	}
	return plan, nil
}

// Start performs the one-time Applying step. A failed build falls back to
// the last-known-good tree; if that is unavailable too, Start returns
// ErrNoShapingState.
func (l *Loop) Start(ctx context.Context) error {
	lim := l.refreshLimits(ctx)
	outcome := model.OutcomeApplied
	plan, err := l.build(ctx, lim)
	if err != nil {
		klog.Errorf("initial build failed, loading last-known-good tree from %s: %v", l.LKGPath, err)
		tree, lerr := queuetree.Load(l.LKGPath)
		if lerr != nil {
			l.record(ctx, "", lim.Hash(), model.OutcomeFailed, err.Error())
			l.tick(model.OutcomeFailed)
			return fmt.Errorf("%w: %v; %v", ErrNoShapingState, err, lerr)
		}
		hash, herr := tree.Hash()
		if herr != nil {
			return fmt.Errorf("%w: last-known-good tree: %v", ErrNoShapingState, herr)
		}
		plan = &planner.Plan{Tree: tree, Hash: hash}
		outcome = model.OutcomeFallback
	}
	if err := l.apply(ctx, plan, lim, outcome); err != nil {
		return fmt.Errorf("initial apply: %w", err)
	}
	return nil
}

// Run is the Watching state. It ticks every Interval and on each nudge
// until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		case <-l.Nudges:
			klog.Infof("overrides changed on the manager, reconciling now")
		}
		l.Tick(ctx)
	}
}

func (l *Loop) recountLanes() {
	if l.CountLanes == nil {
		return
	}
	lanes, err := l.CountLanes()
	if err != nil {
		klog.Warningf("recount lanes, keeping %+v: %v", l.Planner.Lanes, err)
		return
	}
	if lanes != l.Planner.Lanes {
		klog.Infof("lane count changed %+v -> %+v", l.Planner.Lanes, lanes)
		l.Planner.Lanes = lanes
	}
}

// Tick runs one Watching cycle and returns its outcome.
func (l *Loop) Tick(ctx context.Context) string {
	l.recountLanes()
	lim := l.refreshLimits(ctx)
	plan, err := l.build(ctx, lim)
	if err != nil {
		klog.Errorf("tick: %v; keeping applied state", err)
		l.tick(model.OutcomeFailed)
		return model.OutcomeFailed
	}
	treeHash, limitsHash := l.State.Hashes()
	if plan.Hash == treeHash && lim.Hash() == limitsHash {
		klog.V(1).Infof("tick: no changes detected")
		l.tick(model.OutcomeSkipped)
		return model.OutcomeSkipped
	}
	klog.Infof("tick: change detected (tree %.12s -> %.12s, limits %.12s -> %.12s), re-applying",
		treeHash, plan.Hash, limitsHash, lim.Hash())
	if err := l.apply(ctx, plan, lim, model.OutcomeApplied); err != nil {
		klog.Errorf("tick: apply failed, will retry next interval: %v", err)
		return model.OutcomeFailed
	}
	return model.OutcomeApplied
}

// apply tears down and rebuilds host state for plan. Setup failures leave
// State untouched so that the next tick retries; per-subtree compile
// failures do not.
func (l *Loop) apply(ctx context.Context, plan *planner.Plan, lim limits.Lookup, outcome string) error {
	fail := func(stage string, err error) error {
		err = fmt.Errorf("%s: %w", stage, err)
		l.record(ctx, plan.Hash, lim.Hash(), model.OutcomeFailed, err.Error())
		l.tick(model.OutcomeFailed)
		return err
	}
	if err := l.Applier.SetupXDP(ctx); err != nil {
		return fail("xdp setup", err)
	}
	l.Applier.Teardown(ctx)
	if err := l.Applier.SetupInterfaceQueues(ctx, plan.Tree.Lanes); err != nil {
		return fail("interface queues", err)
	}
	res, err := compiler.Compile(ctx, plan.Tree, l.Applier.Sink(), l.Applier.Devices())
	if err != nil {
		return fail("compile", err)
	}

	detail := ""
	if n := res.Failures(); n > 0 {
		detail = fmt.Sprintf("%d subtree failures: %v", n, res.Err())
	}
	if outcome == model.OutcomeApplied {
		if err := plan.Tree.Save(l.LKGPath); err != nil {
			klog.Errorf("save last-known-good tree: %v", err)
		}
	}
	at := l.now()
	l.State.set(plan.Tree, plan.Hash, lim.Hash(), res, at)
	l.record(ctx, plan.Hash, lim.Hash(), outcome, detail)
	l.tick(outcome)
	if l.Metrics != nil {
		classes, binds := 0, 0
		for _, lr := range res.Lanes {
			classes += lr.Classes
			binds += lr.Bindings
		}
		l.Metrics.CompileFailures.Add(float64(res.Failures()))
		l.Metrics.ClassesApplied.Set(float64(classes))
		l.Metrics.BindingsApplied.Set(float64(binds))
		l.Metrics.ShapedClients.Set(float64(plan.Tree.Clients()))
		l.Metrics.LastApply.Set(float64(at.Unix()))
	}
	klog.Infof("applied tree %.12s (%s): %d lanes, %d clients, %d failures",
		plan.Hash, outcome, plan.Tree.LaneTotal(), plan.Tree.Clients(), res.Failures())
	return nil
}
