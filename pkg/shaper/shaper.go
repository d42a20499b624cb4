// Package shaper applies shaping state to the host through tc and the
// xdp-cpumap-tc tools.
package shaper

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"bracket-qos/pkg/compiler"
	"bracket-qos/pkg/config"
	"bracket-qos/pkg/queuetree"
)

// MQHandle is the multiqueue root installed on both interfaces.
const MQHandle = "7FFF:"

// DefaultPrio is the htb priority of each lane's default class.
const DefaultPrio = 5

type Shaper struct {
	Devs    compiler.Devices
	XDPPath string
	TC      string
	Runner  Runner

	InternetDown, InternetUp uint32
	DefaultDown, DefaultUp   uint32
}

// New returns a shaper for cfg. A dry-run config only logs commands.
func New(cfg config.Config) *Shaper {
	var r Runner = ExecRunner{}
	if cfg.DryRun {
		r = LogRunner{}
	}
	return &Shaper{
		Devs:         compiler.Devices{ToISP: cfg.ToISP, ToInternet: cfg.ToInternet},
		XDPPath:      cfg.XDPPath,
		TC:           "tc",
		Runner:       r,
		InternetDown: cfg.InternetDownloadMbps,
		InternetUp:   cfg.InternetUploadMbps,
		DefaultDown:  cfg.DefaultDownloadMbps,
		DefaultUp:    cfg.DefaultUploadMbps,
	}
}

func (s *Shaper) tc(ctx context.Context, args ...string) error {
	return s.Runner.Run(ctx, s.TC, args...)
}

func (s *Shaper) xdpTool(name string) string {
	return s.XDPPath + "/src/" + name
}

func mbit(v uint32) string { return fmt.Sprintf("%dmbit", v) }

// Teardown removes filters and qdiscs from both interfaces. Deleting state
// that is not there fails, so errors are logged and ignored.
func (s *Shaper) Teardown(ctx context.Context) {
	for _, dev := range []string{s.Devs.ToISP, s.Devs.ToInternet} {
		steps := [][]string{
			{"filter", "delete", "dev", dev},
			{"filter", "delete", "dev", dev, "root"},
			{"qdisc", "delete", "dev", dev, "root"},
			{"qdisc", "delete", "dev", dev},
		}
		for _, args := range steps {
			if err := s.tc(ctx, args...); err != nil {
				klog.V(2).Infof("teardown %s: %v", dev, err)
			}
		}
	}
	klog.Infof("cleared shaping state on %s and %s", s.Devs.ToISP, s.Devs.ToInternet)
}

// SetupXDP turns off XPS, attaches the ip-hash redirect on both interfaces,
// clears the address map and installs the tc classifier.
func (s *Shaper) SetupXDP(ctx context.Context) error {
	xps := s.XDPPath + "/bin/xps_setup.sh"
	for _, dev := range []string{s.Devs.ToISP, s.Devs.ToInternet} {
		if err := s.Runner.Run(ctx, xps, "-d", dev, "--default", "--disable"); err != nil {
			return fmt.Errorf("disable xps on %s: %w", dev, err)
		}
	}
	if err := s.Runner.Run(ctx, s.xdpTool("xdp_iphash_to_cpu"), "--dev", s.Devs.ToISP, "--lan"); err != nil {
		return fmt.Errorf("attach xdp on %s: %w", s.Devs.ToISP, err)
	}
	if err := s.Runner.Run(ctx, s.xdpTool("xdp_iphash_to_cpu"), "--dev", s.Devs.ToInternet, "--wan"); err != nil {
		return fmt.Errorf("attach xdp on %s: %w", s.Devs.ToInternet, err)
	}
	if err := s.Runner.Run(ctx, s.xdpTool("xdp_iphash_to_cpu_cmdline"), "--clear"); err != nil {
		return fmt.Errorf("clear xdp map: %w", err)
	}
	for _, dev := range []string{s.Devs.ToISP, s.Devs.ToInternet} {
		if err := s.Runner.Run(ctx, s.xdpTool("tc_classify"), "--dev-egress", dev); err != nil {
			return fmt.Errorf("attach classifier on %s: %w", dev, err)
		}
	}
	return nil
}

// SetupInterfaceQueues installs the mq root and, for every hardware queue,
// an htb qdisc with its root class and default class. Compiled classes hang
// off the root class; unclassified traffic goes to the default class.
func (s *Shaper) SetupInterfaceQueues(ctx context.Context, lanes queuetree.LaneCount) error {
	sides := []struct {
		dev           string
		n             uint32
		total, defcap uint32
	}{
		{s.Devs.ToISP, lanes.ToISP, s.InternetDown, s.DefaultDown},
		{s.Devs.ToInternet, lanes.ToInternet, s.InternetUp, s.DefaultUp},
	}
	for _, side := range sides {
		if err := s.tc(ctx, "qdisc", "replace", "dev", side.dev, "root", "handle", MQHandle, "mq"); err != nil {
			return fmt.Errorf("mq root on %s: %w", side.dev, err)
		}
		for lane := uint32(1); lane <= side.n; lane++ {
			if err := s.laneQueues(ctx, side.dev, lane, side.total, side.defcap); err != nil {
				return fmt.Errorf("lane %d on %s: %w", lane, side.dev, err)
			}
		}
		klog.Infof("set %d lane queues on %s", side.n, side.dev)
	}
	return nil
}

func (s *Shaper) laneQueues(ctx context.Context, dev string, lane, total, defcap uint32) error {
	root := compiler.Handle{Major: lane, Minor: compiler.RootMinor}
	def := compiler.Handle{Major: lane, Minor: compiler.DefaultMinor}
	major := fmt.Sprintf("%x:", lane)
	steps := [][]string{
		{"qdisc", "replace", "dev", dev, "parent", fmt.Sprintf("%s%x", MQHandle, lane), "handle", major,
			"htb", "default", fmt.Sprintf("%x", compiler.DefaultMinor)},
		{"class", "replace", "dev", dev, "parent", major, "classid", root.String(),
			"htb", "rate", mbit(total), "ceil", mbit(total)},
		{"class", "replace", "dev", dev, "parent", root.String(), "classid", def.String(),
			"htb", "rate", mbit(max(defcap/4, 1)), "ceil", mbit(defcap), "prio", fmt.Sprint(DefaultPrio)},
		{"qdisc", "replace", "dev", dev, "parent", def.String(), "cake", "diffserv4"},
	}
	for _, args := range steps {
		if err := s.tc(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// Devices returns the shaped interfaces.
func (s *Shaper) Devices() compiler.Devices { return s.Devs }

// Sink returns the compiler sink that issues tc and XDP commands.
func (s *Shaper) Sink() compiler.Sink { return &ExecSink{s: s} }

// ExecSink applies compiler operations with replace semantics.
type ExecSink struct {
	s *Shaper
}

func (e *ExecSink) Class(ctx context.Context, op compiler.ClassOp) error {
	return e.s.tc(ctx, "class", "replace", "dev", op.Dev, "parent", op.Parent.String(), "classid", op.ClassID.String(),
		"htb", "rate", mbit(op.RateMbps), "ceil", mbit(op.CeilMbps), "prio", fmt.Sprint(op.Prio))
}

func (e *ExecSink) Qdisc(ctx context.Context, op compiler.QdiscOp) error {
	return e.s.tc(ctx, "qdisc", "replace", "dev", op.Dev, "parent", op.Parent.String(), "cake", "diffserv4")
}

func (e *ExecSink) Bind(ctx context.Context, op compiler.BindOp) error {
	return e.s.Runner.Run(ctx, e.s.xdpTool("xdp_iphash_to_cpu_cmdline"),
		"--add", "--ip", op.IP, "--cpu", fmt.Sprint(op.CPU()), "--classid", op.ClassID.String())
}
