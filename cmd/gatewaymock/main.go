// Command gatewaymock: локальный in-memory шлюз MeshGuard для разработки и e2e-тестов SDK.
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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/gatewaymock"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type flags struct {
	config      string
	addr        string
	metricsAddr string
	secret      string
	tokenTTL    time.Duration
	rate        float64
	burst       int
	policies    string
	bootstrap   string
}

func main() {
	var f flags
	cmd := &cobra.Command{
		Use:           "gatewaymock",
		Short:         "In-memory MeshGuard gateway for local development",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "config file (YAML); also "+infra.EnvConfigFile)
	fl.StringVar(&f.addr, "addr", ":8080", "gateway listen address")
	fl.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "prometheus listen address; empty disables")
	fl.StringVar(&f.secret, "secret", "", "HMAC secret for agent tokens; random when empty")
	fl.DurationVar(&f.tokenTTL, "token-ttl", 0, "agent token lifetime; 0 issues tokens without exp")
	fl.Float64Var(&f.rate, "rate", 0, "requests per second before 429; 0 disables")
	fl.IntVar(&f.burst, "burst", 10, "rate limiter burst")
	fl.StringVar(&f.policies, "policies", "", "YAML file with policies; built-in set when empty")
	fl.StringVar(&f.bootstrap, "bootstrap-agent", "", "register an agent with this name on start and print its token")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "gatewaymock:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	cfg, err := infra.LoadConfig(f.config)
	if err != nil {
		return err
	}
	if cfg.Logger.Level == "none" {
		cfg.Logger.Level = "info"
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Gateway.AdminToken == "" {
		return errors.New("admin token is required (MESHGUARD_ADMIN_TOKEN or gateway.admin_token)")
	}

	var policies []gatewaymock.Policy
	if f.policies != "" {
		if policies, err = loadPolicies(f.policies); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var notifier gatewaymock.Notifier
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		notifier = gatewaymock.NewRedisNotifier(rdb, cfg.Redis.Channel)
	}

	srv, err := gatewaymock.New(gatewaymock.Config{
		AdminToken: cfg.Gateway.AdminToken,
		Secret:     []byte(f.secret),
		TokenTTL:   f.tokenTTL,
		Policies:   policies,
		RateLimit:  f.rate,
		RateBurst:  f.burst,
		Notifier:   notifier,
		Registerer: reg,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if f.bootstrap != "" {
		agent, err := srv.RegisterAgent(domain.AgentSpec{Name: f.bootstrap, TrustTier: domain.TierVerified})
		if err != nil {
			return err
		}
		logger.Info("bootstrap agent registered", zap.String("agent_id", agent.ID))
		fmt.Printf("MESHGUARD_AGENT_TOKEN=%s\n", agent.Token)
	}

	if f.metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(f.metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              f.addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway mock started", zap.String("addr", f.addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("gateway mock stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func loadPolicies(path string) ([]gatewaymock.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policies: %w", err)
	}
	var doc struct {
		Policies []gatewaymock.Policy `yaml:"policies"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse policies %s: %w", path, err)
	}
	return doc.Policies, nil
}
