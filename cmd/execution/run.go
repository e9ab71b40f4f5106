package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/peycheff-com/titan-execution-core/internal/adminhttp"
	"github.com/peycheff-com/titan-execution-core/internal/bus"
	"github.com/peycheff-com/titan-execution-core/internal/creds"
	"github.com/peycheff-com/titan-execution-core/internal/lifecycle"
	"github.com/peycheff-com/titan-execution-core/internal/obs"
	"github.com/peycheff-com/titan-execution-core/internal/reconcile"
	"github.com/peycheff-com/titan-execution-core/internal/safety"
	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
	"github.com/peycheff-com/titan-execution-core/pkg/config"
	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

func newRunCommand() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the execution core process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), env)
		},
	}
	cmd.Flags().StringVar(&env, "env", utils.EnvOrDefault("TITAN_ENV", ""), "configuration overlay name")
	return cmd
}

// rbacPolicy is the YAML shape of the RBAC policy file named by
// credentials.rbac_roles_file: a flat actor -> roles mapping.
type rbacPolicy struct {
	Roles map[string][]string `yaml:"roles"`
}

func runProcess(ctx context.Context, env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return utils.Wrap(err, "load config")
	}

	log, err := obs.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return utils.Wrap(err, "build logger")
	}
	telemetry, err := obs.NewTelemetryLogger()
	if err != nil {
		return utils.Wrap(err, "build telemetry logger")
	}
	defer telemetry.Sync()

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return utils.Wrap(err, "open store")
	}
	defer st.Close()

	risk := safety.NewRiskMachine()
	core, err := safety.NewCore(st, risk)
	if err != nil {
		return utils.Wrap(err, "init safety core")
	}
	breakers := safety.NewBreakerSet()

	keys, err := creds.LoadKeySource(cfg.Credentials.HMACKeyFile)
	if err != nil {
		return utils.Wrap(err, "load hmac keys")
	}
	verifier := creds.NewVerifier(keys, st,
		time.Duration(cfg.Intent.ClockSkewToleranceMS)*time.Millisecond,
		time.Duration(cfg.Bus.DedupWindowMS)*time.Millisecond)

	roles := creds.NewRoleTable(st)
	if cfg.Credentials.RBACFile != "" {
		if err := loadRBACFile(roles, cfg.Credentials.RBACFile); err != nil {
			return utils.Wrap(err, "load rbac policy")
		}
	}

	callPolicy := venue.CallPolicy{
		Deadline: time.Duration(cfg.Venue.CallDeadlineMS) * time.Millisecond,
		Attempts: 3,
	}
	adapters := make(map[string]venue.Adapter, len(cfg.Accounts))
	seen := make(map[string]bool)
	for _, acc := range cfg.Accounts {
		if seen[acc.Venue] {
			continue
		}
		seen[acc.Venue] = true
		baseURL := utils.EnvOrDefault("TITAN_VENUE_"+acc.Venue+"_URL", "")
		var inner venue.Adapter
		if baseURL == "" {
			inner = venue.NewMockAdapter(acc.Venue)
		} else {
			inner = venue.NewHTTPAdapter(acc.Venue, baseURL)
		}
		adapters[acc.Venue] = venue.NewRetryAdapter(inner, callPolicy)
	}

	book := lifecycle.NewBook(time.Duration(cfg.Reconcile.StalenessThresholdMS) * time.Millisecond)

	outbox, err := bus.OpenOutbox(cfg.Store.DBPath+".outbox", 4096)
	if err != nil {
		return utils.Wrap(err, "open outbox")
	}
	defer outbox.Close()

	codec := wire.NewCodec()
	adapter, err := bus.Connect(cfg.Bus.URL, codec, outbox, log)
	if err != nil {
		return utils.Wrap(err, "connect bus")
	}
	defer adapter.Close()
	backoff := make([]time.Duration, 0, len(cfg.Bus.BackoffMS))
	for _, ms := range cfg.Bus.BackoffMS {
		backoff = append(backoff, time.Duration(ms)*time.Millisecond)
	}
	adapter.SetRedelivery(cfg.Bus.MaxDeliver, backoff)
	core.SetOpsPublisher(adapter)

	limits := lifecycle.Limits{
		IntentTTL:         time.Duration(cfg.Intent.TTLMs) * time.Millisecond,
		MaxPositionPct:    decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		MaxLeverage:       decimal.NewFromFloat(cfg.Risk.MaxLeverage),
		MaxSlippageBps:    cfg.Risk.MaxSlippageBps,
		MaxSpreadDriftBps: decimal.NewFromFloat(50),
		Capital:           decimal.NewFromFloat(cfg.Risk.Capital),
	}
	mgr := lifecycle.NewManager(st, core, risk, breakers, book, adapters, adapter, limits)
	parts := lifecycle.NewPartitions(mgr)
	sched := lifecycle.NewExpiryScheduler(parts, limits.IntentTTL)
	defer sched.Stop()
	trig := lifecycle.NewVolumeTrigger(cfg.Market.VolumeWindowMS, cfg.Market.VolumeThreshold)
	sentinel := safety.NewSentinelMonitor(risk, time.Duration(cfg.Reconcile.SentinelTimeoutMS)*time.Millisecond)
	sentinel.Watch("sentinel")

	var leader *safety.Lease
	if len(cfg.Leader.EtcdEndpoints) > 0 {
		leader, err = safety.NewLease(cfg.Leader.EtcdEndpoints, "titan/execution/leader", cfg.Leader.LeaseTTLMs/1000)
		if err != nil {
			return utils.Wrap(err, "init leader lease")
		}
		defer leader.Close()
		leader.OnDemote(parts.Demote)
		term, err := leader.Campaign(ctx, hostIdentity())
		if err != nil {
			return utils.Wrap(err, "campaign for leadership")
		}
		// The lease's counter is process-local; the fencing token must
		// stay monotonic across restarts, so it can never fall back
		// below the persisted record.
		if prev := core.Snapshot().LeaderTerm; term <= prev {
			term = prev + 1
		}
		if err := core.SetLeaderTerm(term); err != nil {
			return utils.Wrap(err, "set leader term")
		}
		mgr.SetTerm(term)
		core.SetTermSource(func() int64 { return term })
		parts.Promote()
	} else {
		// Without a lease the process inherits the persisted term so a
		// lease-less restart is not fenced out by its own history.
		mgr.SetTerm(core.Snapshot().LeaderTerm)
	}

	accounts := make([]reconcile.AccountSpec, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		accounts = append(accounts, reconcile.AccountSpec{Venue: acc.Venue, Account: acc.Account})
	}
	metrics := reconcile.NewMetrics(telemetry)
	var leaderChecker reconcile.LeaderChecker
	if leader != nil {
		leaderChecker = leader
	}
	loop := reconcile.New(st, core, risk, leaderChecker, parts, adapters, accounts, adapter,
		metrics, reconcile.Config{
			Period:            time.Duration(cfg.Reconcile.PeriodMS) * time.Millisecond,
			HeartbeatInterval: time.Duration(cfg.Leader.HeartbeatIntervalMS) * time.Millisecond,
			DriftTolerance:    decimal.NewFromFloat(cfg.Reconcile.DriftTolerance),
			Capital:           decimal.NewFromFloat(cfg.Risk.Capital),
			MaxDrawdownPct:    decimal.NewFromFloat(cfg.Risk.MaxDrawdownPct),
			MaxDailyLossPct:   decimal.NewFromFloat(cfg.Risk.MaxDailyLossPct),
			DedupWindow:       time.Duration(cfg.Bus.DedupWindowMS) * time.Millisecond,
		}, telemetry)
	loop.AttachSentinel(sentinel)
	loop.SetTerm(core.Snapshot().LeaderTerm)

	admin := adminhttp.NewServer(cfg.AdminHTTP.BindAddr, st, core, risk, verifier, roles, adapters, metrics, log)
	admin.SetCanceller(parts)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Broker disconnect suspends admissions; reconnect replays the outbox
	// and restores them only while the lease is still held (§4.2).
	adapter.OnDisconnect(func(err error) {
		log.WithError(err).Warn("bus disconnected; suspending admissions")
		parts.Demote()
	})
	adapter.OnReconnect(func() {
		if err := adapter.ReplayOutbox(runCtx); err != nil {
			log.WithError(err).Warn("outbox replay failed")
		}
		if leader == nil || leader.IsLeader() {
			parts.Promote()
			log.Info("bus reconnected; admissions restored")
		}
	})

	// Resume whatever a previous process left non-terminal before
	// accepting new work.
	report, err := mgr.Recover(runCtx)
	if err != nil {
		return utils.Wrap(err, "crash recovery")
	}
	if err := mgr.RetrackOpen(runCtx, sched); err != nil {
		return utils.Wrap(err, "retrack open orders")
	}
	log.WithFields(logrus.Fields{
		"scanned":     report.Scanned,
		"resubmitted": report.Resubmitted,
		"expired":     report.Expired,
		"still_open":  report.StillOpen,
	}).Info("recovery complete")

	if err := subscribeCommands(runCtx, adapter, parts, verifier, st, sched, log); err != nil {
		return utils.Wrap(err, "subscribe commands")
	}
	if err := subscribeOperator(runCtx, adapter, core, parts, verifier, roles, log); err != nil {
		return utils.Wrap(err, "subscribe operator")
	}
	if err := subscribeMarketData(runCtx, adapter, book, trig, log); err != nil {
		return utils.Wrap(err, "subscribe market data")
	}
	if err := subscribeHeartbeats(runCtx, adapter, sentinel); err != nil {
		return utils.Wrap(err, "subscribe heartbeats")
	}
	if err := subscribeRPC(runCtx, adapter, st, adapters, log); err != nil {
		return utils.Wrap(err, "bind rpc responders")
	}
	if err := consumeFills(runCtx, adapters, cfg.Accounts, parts, sched, log); err != nil {
		return utils.Wrap(err, "open fill streams")
	}

	go loop.Run(runCtx)
	go func() {
		if err := admin.ListenAndServe(); err != nil {
			log.WithError(err).Warn("admin http server stopped")
		}
	}()

	log.WithField("admin_addr", cfg.AdminHTTP.BindAddr).Info("execution core running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	cancel()
	parts.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = admin.Shutdown(shutdownCtx)
	if leader != nil {
		_ = leader.Resign(shutdownCtx)
	}
	return nil
}

func hostIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		return "execution-unknown"
	}
	return host
}

func loadRBACFile(roles *creds.RoleTable, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var policy rbacPolicy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return err
	}
	parsed := make(map[string][]creds.Role, len(policy.Roles))
	for actor, names := range policy.Roles {
		rs := make([]creds.Role, 0, len(names))
		for _, n := range names {
			rs = append(rs, creds.Role(n))
		}
		parsed[actor] = rs
	}
	return roles.LoadStatic(parsed)
}
