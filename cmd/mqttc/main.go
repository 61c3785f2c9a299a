package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitalvas/mqttv3"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cli carries state shared between the root command and its subcommands.
type cli struct {
	flags      *Config
	configPath string
}

func main() {
	app := &cli{flags: NewConfig()}

	rootCmd := &cobra.Command{
		Use:   "mqttc",
		Short: "MQTT 3.1.1 command line client",
		Long: `mqttc publishes and subscribes to an MQTT 3.1.1 broker.

Settings are read from defaults, then the --config YAML file, then
MQTTC_* environment variables, then command line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "YAML configuration file")
	app.flags.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		pubCmd(app),
		subCmd(app),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// connect resolves the configuration and connects a client. The returned
// function disconnects the client and stops the metrics server.
func (a *cli) connect(ctx context.Context, cmd *cobra.Command, extra ...mqttv3.Option) (*mqttv3.Client, func(), error) {
	cfg, err := Resolve(a.flags, cmd.Flags(), a.configPath)
	if err != nil {
		return nil, nil, err
	}

	opts := cfg.Options()
	stopMetrics := func() {}

	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		opts = append(opts, mqttv3.WithMetrics(mqttv3.NewPrometheusMetrics(
			mqttv3.WithPrometheusNamespace("mqttc"),
			mqttv3.WithPrometheusRegistry(registry),
		)))
		stopMetrics = serveMetrics(cfg.MetricsAddr, registry)
	}

	opts = append(opts, extra...)

	client, err := mqttv3.DialContext(ctx, opts...)
	if err != nil {
		stopMetrics()
		return nil, nil, err
	}

	return client, func() {
		client.Close()
		stopMetrics()
	}, nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %s\n", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
