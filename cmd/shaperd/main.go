package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"bracket-qos/pkg/agent"
	"bracket-qos/pkg/api"
	"bracket-qos/pkg/auth"
	"bracket-qos/pkg/config"
	"bracket-qos/pkg/limits"
	"bracket-qos/pkg/metrics"
	"bracket-qos/pkg/planner"
	"bracket-qos/pkg/queuetree"
	"bracket-qos/pkg/shaper"
	"bracket-qos/pkg/uisp"
	"bracket-qos/pkg/version"
)

type options struct {
	configPath  string
	dryRun      bool
	once        bool
	caFile      string
	certFile    string
	keyFile     string
	insecure    bool
	consulAddr  string
	consulToken string
}

func main() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	cmd := newRootCommand()
	err := cmd.Execute()
	if err != nil {
		klog.Errorf("%v", err)
	}
	klog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "shaperd",
		Short:         "Builds and applies per-subscriber traffic shaping from the NMS topology",
		Version:       version.Build,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	f := cmd.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to the YAML configuration")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "log tc and xdp commands instead of running them")
	cmd.Flags().BoolVar(&opts.once, "once", false, "apply once and exit")
	f.StringVar(&opts.caFile, "ca", "", "CA file for the manager TLS")
	f.StringVar(&opts.certFile, "cert", "", "client TLS certificate (for mTLS)")
	f.StringVar(&opts.keyFile, "key", "", "client TLS key (for mTLS)")
	f.BoolVar(&opts.insecure, "insecure", false, "skip TLS verify for the manager (not recommended)")
	cmd.Flags().StringVar(&opts.consulAddr, "consul-addr", "", "watch the overrides version in consul instead of the bus websocket (requires build tag consul)")
	cmd.Flags().StringVar(&opts.consulToken, "consul-token", os.Getenv("CONSUL_HTTP_TOKEN"), "consul ACL token")
	f.AddFlagSet(pflag.CommandLine)

	cmd.AddCommand(newPlanCommand(opts), newHistoryCommand(opts))
	return cmd
}

func loadConfig(opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.dryRun {
		cfg.DryRun = true
	}
	return cfg, nil
}

// wiring is everything built from the config that both the daemon and the
// plan command need.
type wiring struct {
	cfg     config.Config
	signer  *auth.Signer
	manager *agent.ManagerClient
	source  uisp.Source
	limits  *limits.Cache
	planner *planner.Planner
	metrics *metrics.Shaper
	lanes   queuetree.LaneCount
	counter *shaper.LaneCounter
}

func wire(opts *options, cfg config.Config) (*wiring, error) {
	w := &wiring{cfg: cfg, signer: auth.NewSigner(cfg.BusSecret), metrics: metrics.New(), source: uisp.NewSource(cfg)}

	var (
		rep     planner.Reporter
		fetcher limits.Fetcher
	)
	if cfg.ControllerURL != "" {
		w.manager = agent.NewManagerClient(cfg.ControllerURL, w.signer)
		tlsCfg, err := api.ClientTLSConfig(opts.caFile, opts.certFile, opts.keyFile, opts.insecure)
		if err != nil {
			return nil, fmt.Errorf("manager tls: %w", err)
		}
		if tlsCfg != nil {
			w.manager.HTTP.Transport = &http.Transport{TLSClientConfig: tlsCfg}
		}
		rep, fetcher = w.manager, w.manager
	} else {
		klog.Infof("no controller_url configured: reports disabled, overrides empty")
	}
	w.limits = limits.NewCache(fetcher)

	w.counter = shaper.NewLaneCounter(cfg.Lanes)
	lanes, err := w.counter.Count(cfg.ToISP, cfg.ToInternet)
	if err != nil {
		return nil, fmt.Errorf("count lanes: %w", err)
	}
	w.lanes = lanes
	w.planner, err = planner.New(cfg, lanes, rep, w.metrics)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func run(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	klog.Infof("%s starting: strategy=%s isp=%s internet=%s dry-run=%v", version.String(), cfg.Strategy, cfg.ToISP, cfg.ToInternet, cfg.DryRun)
	w, err := wire(opts, cfg)
	if err != nil {
		return err
	}

	journal, err := agent.OpenJournal(cfg.JournalPath())
	if err != nil {
		klog.Warningf("apply journal disabled: %v", err)
		journal = nil
	}
	defer journal.Close()

	state := &agent.State{}
	countLanes := func() (queuetree.LaneCount, error) {
		return w.counter.Count(cfg.ToISP, cfg.ToInternet)
	}
	loop := &agent.Loop{
		Source:     w.source,
		Limits:     w.limits,
		Planner:    w.planner,
		Applier:    shaper.New(cfg),
		Journal:    journal,
		Metrics:    w.metrics,
		State:      state,
		LKGPath:    cfg.LastKnownGoodPath(),
		Interval:   cfg.Interval,
		CountLanes: countLanes,
	}
	if err := loop.Start(ctx); err != nil {
		return err
	}
	if opts.once {
		return nil
	}

	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr, w.metrics, state)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				klog.Errorf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	nudges, err := startNudges(ctx, opts, w)
	if err != nil {
		return err
	}
	loop.Nudges = nudges

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		klog.Infof("shutting down")
		return nil
	}
	return err
}

// startNudges returns the channel that triggers early ticks: the consul
// version watch when requested, else the bus websocket.
func startNudges(ctx context.Context, opts *options, w *wiring) (<-chan struct{}, error) {
	if opts.consulAddr != "" {
		ch := make(chan struct{}, 1)
		err := agent.WatchLimitsVersion(ctx, opts.consulAddr, opts.consulToken, func(v int64) {
			klog.Infof("overrides version moved to %d", v)
			select {
			case ch <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	n := agent.NewNudger(w.cfg.ControllerURL, w.signer)
	if n == nil {
		return nil, nil
	}
	if t, ok := w.manager.HTTP.Transport.(*http.Transport); ok && t.TLSClientConfig != nil {
		d := *websocket.DefaultDialer
		d.TLSClientConfig = t.TLSClientConfig
		n.Dialer = &d
	}
	go n.Run(ctx)
	return n.Nudges(), nil
}

func metricsServer(addr string, m *metrics.Shaper, state *agent.State) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/state", func(w http.ResponseWriter, _ *http.Request) {
		treeHash, limitsHash := state.Hashes()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tree_hash":   treeHash,
			"limits_hash": limitsHash,
			"applied_at":  state.AppliedAt(),
			"ip_sites":    state.IPSites(),
		})
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func newPlanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Build the queue tree once and print it as a monitor tree, without touching the host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			w, err := wire(opts, cfg)
			if err != nil {
				return err
			}
			w.planner.Reporter = nil
			ctx := cmd.Context()
			if err := w.limits.Refresh(ctx); err != nil {
				klog.Warningf("limits refresh failed: %v", err)
			}
			topo, err := w.source.Fetch(ctx)
			if err != nil {
				return err
			}
			plan, err := w.planner.Build(ctx, topo, w.limits.Snapshot())
			if err != nil {
				return err
			}
			entries, err := plan.Tree.MonitorTree(cfg.InternetDownloadMbps, cfg.InternetUploadMbps)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"hash":       plan.Hash,
				"clients":    plan.Tree.Clients(),
				"duplicates": plan.Duplicates,
				"unmapped":   plan.Unmapped,
				"tree":       entries,
			})
		},
	}
}

func newHistoryCommand(opts *options) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent apply outcomes from the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			j, err := agent.OpenJournal(cfg.JournalPath())
			if err != nil {
				return err
			}
			defer j.Close()
			recs, err := j.Recent(cmd.Context(), n)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range recs {
				fmt.Fprintf(out, "%s  %-8s tree=%.12s limits=%.12s %s\n", r.Time.Local().Format(time.RFC3339), r.Outcome, r.TreeHash, r.LimitsHash, r.Detail)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 20, "number of records")
	return cmd
}
