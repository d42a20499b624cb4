package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"bracket-qos/pkg/api"
	"bracket-qos/pkg/auth"
	"bracket-qos/pkg/store"
	"bracket-qos/pkg/version"
)

type options struct {
	addr       string
	storeType  string
	consulAddr string
	secret     string
	tlsCert    string
	tlsKey     string
	clientCA   string
}

func main() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			klog.Warningf("load .env: %v", err)
		}
	}

	opts := &options{}
	cmd := &cobra.Command{
		Use:           "manager",
		Short:         "Management bus: receives shaper reports and serves bandwidth overrides",
		Version:       version.Build,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", ":8080", "listen address")
	f.StringVar(&opts.storeType, "store", "memory", "store backend: memory|mysql|consul (consul requires build tag consul)")
	f.StringVar(&opts.consulAddr, "consul-addr", "127.0.0.1:8500", "consul address (when store=consul)")
	f.StringVar(&opts.secret, "bus-secret", os.Getenv("BRACKET_BUS_SECRET"), "HS256 secret shared with the daemons; empty disables bus auth")
	f.StringVar(&opts.tlsCert, "tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	f.StringVar(&opts.tlsKey, "tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	f.StringVar(&opts.clientCA, "client-ca", "", "require and verify client certs using this CA (optional)")
	f.AddFlagSet(pflag.CommandLine)

	err := cmd.Execute()
	if err != nil {
		klog.Errorf("%v", err)
	}
	klog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func openStore(opts *options) (store.BusStore, error) {
	switch opts.storeType {
	case "memory":
		return store.NewMemoryStore(), nil
	case "mysql":
		return store.NewMySQLStore()
	case "consul":
		return store.NewConsulStore(opts.consulAddr)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", opts.storeType)
	}
}

func run(ctx context.Context, opts *options) error {
	st, err := openStore(opts)
	if err != nil {
		return fmt.Errorf("open %s store: %w", opts.storeType, err)
	}
	signer := auth.NewSigner(opts.secret)
	if signer == nil {
		klog.Warningf("bus auth disabled: no --bus-secret")
	}

	mux := http.NewServeMux()
	api.NewBus(st, signer).RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	klog.Infof("%s manager listening on %s (store=%s)", version.String(), opts.addr, opts.storeType)
	if opts.tlsCert != "" && opts.tlsKey != "" {
		cfg, errTLS := api.ServerTLSConfig(opts.tlsCert, opts.tlsKey, opts.clientCA)
		if errTLS != nil {
			return fmt.Errorf("build TLS config: %w", errTLS)
		}
		srv.TLSConfig = cfg
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
