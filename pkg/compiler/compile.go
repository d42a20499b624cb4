package compiler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"bracket-qos/pkg/queuetree"
)

// SubtreeFailure records an operation that failed. When Handle belongs to an
// aggregation node or a client class, nothing beneath it was compiled.
type SubtreeFailure struct {
	SiteID string
	Handle Handle
	Err    error
}

func (f SubtreeFailure) Error() string {
	return fmt.Sprintf("site %s at %s: %v", f.SiteID, f.Handle, f.Err)
}

func (f SubtreeFailure) Unwrap() error { return f.Err }

// LaneResult summarizes one lane's job.
type LaneResult struct {
	Lane     uint32
	Classes  int
	Bindings int
	Failures []SubtreeFailure
}

// Err combines the lane's failures, or returns nil.
func (r LaneResult) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// Result is the outcome of a compile pass.
type Result struct {
	Lanes []LaneResult
	// QueueSites attributes each compiled class to its site, for statistics.
	QueueSites map[Handle]string
	// IPSites maps each bound address to its client site.
	IPSites map[string]string
}

// Failures counts failed operations across all lanes.
func (r Result) Failures() int {
	n := 0
	for _, l := range r.Lanes {
		n += len(l.Failures)
	}
	return n
}

// Err combines every lane's failures.
func (r Result) Err() error {
	var err error
	for _, l := range r.Lanes {
		err = multierr.Append(err, l.Err())
	}
	return err
}

// Compile issues the operations for every lane concurrently. Operation
// failures are collected per subtree in the result; the returned error is
// reserved for trees the compiler cannot interpret.
func Compile(ctx context.Context, tree *queuetree.QueueTree, sink Sink, devs Devices) (Result, error) {
	jobs := make([]*laneJob, len(tree.Queues))
	var g errgroup.Group
	for i, q := range tree.Queues {
		if q.Kind != queuetree.KindLane {
			return Result{}, fmt.Errorf("compile: queue %d is a %s, not a lane", i, q.Kind)
		}
		j := &laneJob{
			sink:   sink,
			devs:   devs,
			lane:   q.LaneID,
			next:   FirstDynamicMinor,
			queues: map[Handle]string{},
			ips:    map[string]string{},
		}
		j.res.Lane = q.LaneID
		jobs[i] = j
		g.Go(func() error { return j.run(ctx, q) })
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{QueueSites: map[Handle]string{}, IPSites: map[string]string{}}
	for _, j := range jobs {
		res.Lanes = append(res.Lanes, j.res)
		for h, s := range j.queues {
			res.QueueSites[h] = s
		}
		for ip, s := range j.ips {
			res.IPSites[ip] = s
		}
	}
	return res, nil
}

type laneJob struct {
	sink Sink
	devs Devices
	lane uint32
	next uint32

	res    LaneResult
	queues map[Handle]string
	ips    map[string]string
}

func (j *laneJob) run(ctx context.Context, lane *queuetree.Node) error {
	for _, ch := range lane.Children {
		if err := j.walk(ctx, RootMinor, ch); err != nil {
			return err
		}
	}
	if len(j.res.Failures) > 0 {
		klog.Warningf("compile: lane %d: %d failures: %v", j.lane, len(j.res.Failures), j.res.Err())
	}
	klog.V(2).Infof("compile: lane %d: %d classes, %d bindings", j.lane, j.res.Classes, j.res.Bindings)
	return nil
}

func (j *laneJob) alloc() Handle {
	h := Handle{Major: j.lane, Minor: j.next}
	j.next++
	return h
}

func (j *laneJob) fail(n *queuetree.Node, h Handle, err error) {
	klog.Errorf("compile: lane %d %s %s (%s) at %s: %v", j.lane, n.Kind, n.SiteID, n.Name, h, err)
	j.res.Failures = append(j.res.Failures, SubtreeFailure{SiteID: n.SiteID, Handle: h, Err: err})
}

func (j *laneJob) class(ctx context.Context, dev string, parent, id Handle, rate, ceil uint32) error {
	err := j.sink.Class(ctx, ClassOp{Dev: dev, Parent: parent, ClassID: id, RateMbps: rate, CeilMbps: ceil, Prio: ClassPrio})
	if err == nil {
		j.res.Classes++
	}
	return err
}

func (j *laneJob) walk(ctx context.Context, parentMinor uint32, n *queuetree.Node) error {
	parent := Handle{Major: j.lane, Minor: parentMinor}
	switch n.Kind {
	case queuetree.KindLane:
		return fmt.Errorf("compile: lane %d nested in lane %d", n.LaneID, j.lane)

	case queuetree.KindTower, queuetree.KindAccessPoint:
		id := j.alloc()
		downRate, downCeil := aggregateRates(n.DownMbps)
		upRate, upCeil := aggregateRates(n.UpMbps)
		if err := j.class(ctx, j.devs.ToISP, parent, id, downRate, downCeil); err != nil {
			j.fail(n, id, err)
			return nil
		}
		if err := j.class(ctx, j.devs.ToInternet, parent, id, upRate, upCeil); err != nil {
			j.fail(n, id, err)
			return nil
		}
		j.queues[id] = n.SiteID
		for _, ch := range n.Children {
			if err := j.walk(ctx, id.Minor, ch); err != nil {
				return err
			}
		}
		return nil

	case queuetree.KindClient:
		id := j.alloc()
		downRate, downCeil := clientRates(n.DownMbps)
		upRate, upCeil := clientRates(n.UpMbps)
		steps := []func() error{
			func() error { return j.class(ctx, j.devs.ToISP, parent, id, downRate, downCeil) },
			func() error { return j.sink.Qdisc(ctx, QdiscOp{Dev: j.devs.ToISP, Parent: id}) },
			func() error { return j.class(ctx, j.devs.ToInternet, parent, id, upRate, upCeil) },
			func() error { return j.sink.Qdisc(ctx, QdiscOp{Dev: j.devs.ToInternet, Parent: id}) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				j.fail(n, id, err)
				return nil
			}
		}
		j.queues[id] = n.SiteID
		for _, ip := range n.IPs {
			if err := j.sink.Bind(ctx, BindOp{IP: ip, Lane: j.lane, ClassID: id}); err != nil {
				j.fail(n, id, fmt.Errorf("bind %s: %w", ip, err))
				continue
			}
			j.res.Bindings++
			j.ips[ip] = n.SiteID
		}
		if len(n.Children) > 0 {
			klog.Warningf("compile: client %s has %d children, not compiled", n.SiteID, len(n.Children))
		}
		return nil
	}
	return fmt.Errorf("compile: %w: %d at %s", queuetree.ErrUnknownKind, uint8(n.Kind), n.SiteID)
}

// Recorder is an in-memory Sink. Fail, when set, decides whether an
// operation fails; failed operations are not recorded.
type Recorder struct {
	Fail func(op any) error

	mu      sync.Mutex
	Classes []ClassOp
	Qdiscs  []QdiscOp
	Binds   []BindOp
}

func (r *Recorder) check(op any) error {
	if r.Fail == nil {
		return nil
	}
	return r.Fail(op)
}

func (r *Recorder) Class(_ context.Context, op ClassOp) error {
	if err := r.check(op); err != nil {
		return err
	}
	r.mu.Lock()
	r.Classes = append(r.Classes, op)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Qdisc(_ context.Context, op QdiscOp) error {
	if err := r.check(op); err != nil {
		return err
	}
	r.mu.Lock()
	r.Qdiscs = append(r.Qdiscs, op)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Bind(_ context.Context, op BindOp) error {
	if err := r.check(op); err != nil {
		return err
	}
	r.mu.Lock()
	r.Binds = append(r.Binds, op)
	r.mu.Unlock()
	return nil
}

// Ops returns the number of recorded operations.
func (r *Recorder) Ops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Classes) + len(r.Qdiscs) + len(r.Binds)
}
