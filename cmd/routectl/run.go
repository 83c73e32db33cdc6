package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/routectl/internal/config"
	"github.com/gezibash/routectl/internal/discovery"
	"github.com/gezibash/routectl/internal/observability"
	"github.com/gezibash/routectl/internal/routing/admin"
	"github.com/gezibash/routectl/internal/routing/command"
	"github.com/gezibash/routectl/internal/routing/filter"
	"github.com/gezibash/routectl/internal/routing/observer"
	"github.com/gezibash/routectl/internal/routing/provider"
)

func newRunCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the controller",
		Long: `Start the dynamic partition routing controller.

The controller subscribes to the discovery announcement channel, derives
which sessions and topic routes the target routing service should carry,
and keeps the target converged through its administration endpoint.

Examples:
  routectl run --target edge-router                 # minimal
  routectl run --config /etc/routectl/routectl.hcl  # explicit config
  routectl run --target edge-router --group siteA   # coexist with peers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runController(cmd.Context(), cfg)
		},
	}

	config.BindRunFlags(cmd, v)
	return cmd
}

func runController(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, observability.ObsConfig{
		LogLevel:       cfg.Observability.LogLevel,
		LogFormat:      cfg.Observability.LogFormat,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		OTLPProtocol:   cfg.Observability.OTLPProtocol,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, os.Stderr)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = obs.Close(shutdownCtx)
	}()

	if cfg.Observability.MetricsAddr != "" {
		obs.ServeMetrics(ctx, cfg.Observability.MetricsAddr)
	}

	slog.Info("starting controller",
		"target", cfg.TargetRoutingService,
		"domain_route", cfg.DomainRoute,
		"admin_addr", cfg.Admin.Addr,
	)

	// Admin transport to the target routing service.
	adminClient, err := admin.Dial(cfg.Admin.Addr, cfg.RequestTimeout)
	if err != nil {
		return err
	}
	obs.Shutdown.Register("admin-client", func(context.Context) error {
		return adminClient.Close()
	})

	// Provider mapping sessions/routes onto the domain route.
	prov, err := provider.NewDomainRoute(cfg.DomainRoute)
	if err != nil {
		return err
	}

	// Commander converging the target on observed transitions.
	commander, err := command.New(command.Config{
		Transport:            adminClient,
		Provider:             prov,
		TargetRoutingService: cfg.TargetRoutingService,
		RetryDelay:           cfg.RetryDelay,
		RequestTimeout:       cfg.RequestTimeout,
		Metrics:              obs.Metrics,
	})
	if err != nil {
		return err
	}
	obs.Shutdown.Register("commander", func(context.Context) error {
		commander.Close()
		return nil
	})

	// Discovery source feeding the observer.
	source, err := discovery.NewSource(ctx, discovery.SourceConfig{
		Addr:     cfg.Discovery.RedisAddr,
		Password: cfg.Discovery.RedisPassword,
		DB:       cfg.Discovery.RedisDB,
		Channel:  cfg.Discovery.Channel,
	})
	if err != nil {
		return err
	}
	obs.Shutdown.Register("discovery-source", func(context.Context) error {
		return source.Close()
	})

	obsrv := observer.New(observer.Config{
		Lookup:  source.Registry(),
		Metrics: obs.Metrics,
	})
	obs.Shutdown.Register("observer", func(context.Context) error {
		obsrv.Close()
		return nil
	})

	if err := addFilters(obsrv, cfg); err != nil {
		return err
	}
	obsrv.AddListener(commander)

	source.AddPublicationListener(obsrv)
	source.AddSubscriptionListener(obsrv)
	if err := source.Start(ctx); err != nil {
		return err
	}

	slog.Info("controller started")
	<-ctx.Done()
	slog.Info("shutdown signal received")
	return nil
}

// addFilters registers the configured filter chain, in the order the
// original deployment registers them: topics first, then self-exclusion,
// group, partitions, and finally operator expressions.
func addFilters(o *observer.Observer, cfg config.Config) error {
	if cfg.Filters.RtiTopics {
		o.AddFilter(filter.NewTopicPrefix(""))
	}
	if cfg.Filters.RoutingServices {
		o.AddFilter(filter.NewRoutingService())
	}
	if cfg.GroupName != "" {
		o.AddFilter(filter.NewRoutingServiceGroup(cfg.GroupName))
	}
	if cfg.Filters.WildcardPartitions {
		o.AddFilter(filter.NewWildcardPartition())
	}
	if cfg.Filters.EndpointExpression != "" || cfg.Filters.PartitionExpression != "" {
		expr, err := filter.NewExpression(cfg.Filters.EndpointExpression, cfg.Filters.PartitionExpression)
		if err != nil {
			return err
		}
		o.AddFilter(expr)
	}
	return nil
}
