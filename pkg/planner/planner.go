// Package planner runs one build: strategy, maximum propagation, duplicate
// audit and the reports that go with them.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"bracket-qos/pkg/config"
	"bracket-qos/pkg/ipmatch"
	"bracket-qos/pkg/limits"
	"bracket-qos/pkg/metrics"
	"bracket-qos/pkg/model"
	"bracket-qos/pkg/queuetree"
	"bracket-qos/pkg/strategy"
)

// Reporter receives the per-build monitoring exports.
type Reporter interface {
	ReportTree(ctx context.Context, r model.TreeReport) error
	ReportDuplicates(ctx context.Context, r model.DuplicateIPReport) error
	ReportUnmapped(ctx context.Context, r model.UnmappedReport) error
}

// Plan is the outcome of a build, ready to compile.
type Plan struct {
	Tree       *queuetree.QueueTree
	Hash       string
	Duplicates []string
	Unmapped   []string
}

type Planner struct {
	Config   config.Config
	Lanes    queuetree.LaneCount
	Builder  strategy.Builder
	Matcher  *ipmatch.Matcher
	Reporter Reporter // optional
	Metrics  *metrics.Shaper
	Now      func() time.Time
}

// New wires a planner for cfg with the given lane counts.
func New(cfg config.Config, lanes queuetree.LaneCount, rep Reporter, m *metrics.Shaper) (*Planner, error) {
	b, err := strategy.ForName(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	return &Planner{
		Config:   cfg,
		Lanes:    lanes,
		Builder:  b,
		Matcher:  ipmatch.New(cfg.IncludeIPRanges, cfg.IgnoreIPRanges),
		Reporter: rep,
		Metrics:  m,
		Now:      time.Now,
	}, nil
}

// Build produces a fresh tree from topo and lim.
func (p *Planner) Build(ctx context.Context, topo model.Topology, lim limits.Lookup) (*Plan, error) {
	plan, err := p.build(topo, lim)
	if p.Metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		p.Metrics.Builds.WithLabelValues(result).Inc()
	}
	if err != nil {
		return nil, err
	}
	p.report(ctx, plan)
	return plan, nil
}

func (p *Planner) build(topo model.Topology, lim limits.Lookup) (*Plan, error) {
	tree := queuetree.New(p.Lanes)
	in := strategy.Input{Config: p.Config, Topology: topo, Limits: lim, Matcher: p.Matcher}
	res, err := p.Builder.Build(in, tree)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", p.Builder.Name(), err)
	}
	if err := queuetree.PropagateMaximums(tree, p.Config.InternetDownloadMbps, p.Config.InternetUploadMbps); err != nil {
		return nil, err
	}
	dupes, err := queuetree.DuplicateIPs(tree)
	if err != nil {
		return nil, err
	}
	hash, err := tree.Hash()
	if err != nil {
		return nil, err
	}
	klog.Infof("planner: %s build, %d lanes, %d clients, %d duplicate IPs, %d unmapped, hash %.12s",
		p.Builder.Name(), tree.LaneTotal(), tree.Clients(), len(dupes), len(res.Unmapped), hash)
	if p.Metrics != nil {
		p.Metrics.DuplicateIPs.Set(float64(len(dupes)))
		p.Metrics.UnmappedClients.Set(float64(len(res.Unmapped)))
	}
	return &Plan{Tree: tree, Hash: hash, Duplicates: dupes, Unmapped: res.Unmapped}, nil
}

// report sends the monitor tree, and duplicates and unmapped clients when
// there are any. Delivery failures are logged only.
func (p *Planner) report(ctx context.Context, plan *Plan) {
	if p.Reporter == nil {
		return
	}
	now := p.Now().UTC()
	entries, err := plan.Tree.MonitorTree(p.Config.InternetDownloadMbps, p.Config.InternetUploadMbps)
	if err != nil {
		klog.Errorf("planner: monitor tree: %v", err)
	} else if err := p.Reporter.ReportTree(ctx, model.TreeReport{ID: uuid.NewString(), Timestamp: now, Entries: entries}); err != nil {
		klog.Warningf("planner: report tree: %v", err)
	}
	if len(plan.Duplicates) > 0 {
		klog.Warningf("planner: duplicate IPs %v", plan.Duplicates)
		if err := p.Reporter.ReportDuplicates(ctx, model.DuplicateIPReport{ID: uuid.NewString(), Timestamp: now, Dupes: plan.Duplicates}); err != nil {
			klog.Warningf("planner: report duplicates: %v", err)
		}
	}
	if len(plan.Unmapped) > 0 {
		if err := p.Reporter.ReportUnmapped(ctx, model.UnmappedReport{ID: uuid.NewString(), Timestamp: now, Clients: plan.Unmapped}); err != nil {
			klog.Warningf("planner: report unmapped clients: %v", err)
		}
	}
}
