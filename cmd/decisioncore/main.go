// Command decisioncore runs the fraud decision core: it reads event-bus
// records, issues deterministic decisions, and advances source offsets only
// behind committed checkpoints.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/acquirer"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/budget"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/checkpoint"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/config"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/inlet"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/ledger"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/observability"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/posture"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/publish"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/registry"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/worker"
)

func main() {
	profilePath := flag.String("profile", "decisioncore.yaml", "path to the runtime profile")
	recordsPath := flag.String("records", "-", "event-bus records as JSON lines, - for stdin")
	flag.Parse()

	if err := run(*profilePath, *recordsPath); err != nil {
		slog.Error("decisioncore failed", "error", err)
		os.Exit(1)
	}
}

func run(profilePath, recordsPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile, err := config.Load(profilePath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(profile.Log.Level, profile.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	db, err := openStore(profile.Storage.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	replayLedger := ledger.NewSQLLedger(db)
	if err := replayLedger.Init(ctx); err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	checkpoints := checkpoint.NewSQLGate(db)
	if err := checkpoints.Init(ctx); err != nil {
		return fmt.Errorf("init checkpoint gate: %w", err)
	}
	offsets := checkpoint.NewSQLOffsetStore(db)
	if err := offsets.Init(ctx); err != nil {
		return fmt.Errorf("init offset store: %w", err)
	}

	policy, err := registry.LoadPolicy(profile.Registry.PolicyPath)
	if err != nil {
		return err
	}
	snapshot, err := registry.LoadSnapshot(profile.Registry.SnapshotPath)
	if err != nil {
		return err
	}

	guard, err := collisionGuard(profile)
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if profile.Metrics.OTLPEndpoint != "" {
		provider, shutdown, err := observability.NewMeterProvider(ctx,
			profile.Metrics.OTLPEndpoint, profile.Metrics.ServiceName)
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
		if metrics, err = observability.NewMetrics(provider.Meter("decisioncore")); err != nil {
			return err
		}
	}

	httpClient := &http.Client{Timeout: time.Duration(profile.Publisher.TimeoutMs) * time.Millisecond}
	scope := contracts.ScopeKey{
		Environment: profile.Scope.Environment,
		Mode:        profile.Scope.Mode,
		BundleSlot:  profile.Scope.BundleSlot,
		TenantID:    profile.Scope.TenantID,
	}

	var limiter *rate.Limiter
	if profile.Publisher.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(profile.Publisher.RatePerSecond), profile.Publisher.Burst)
	}

	tally := observability.NewTally(profile.Producer)
	pipeline := worker.New(worker.Config{
		Gate: inlet.NewGate(profile.Inlet.Policy, guard),
		Posture: posture.NewResolver(
			&posture.HTTPService{BaseURL: profile.Posture.ServiceURL, Client: httpClient},
			posture.NewTransitionGuard(time.Duration(profile.Posture.RelaxHoldDownSeconds)*time.Second),
			profile.Posture.MaxAgeSeconds,
		),
		Registry: registry.NewResolver(policy, snapshot),
		Acquirer: acquirer.New(
			&acquirer.HTTPFeaturePlaneClient{BaseURL: profile.Acquirer.FeaturePlaneURL, Client: httpClient},
			&acquirer.HTTPIdentityGraphClient{BaseURL: profile.Acquirer.IdentityGraphURL, Client: httpClient},
			budget.Limits{
				DecisionDeadlineMs: profile.Budget.DecisionDeadlineMs,
				JoinWaitBudgetMs:   profile.Budget.JoinWaitBudgetMs,
			},
			profile.Acquirer.RequiredRoles,
			profile.Acquirer.Defaults,
		),
		Ledger:      replayLedger,
		Checkpoints: checkpoints,
		Publisher: publish.NewPublisher(
			publish.NewHTTPSink(profile.Publisher.GateURL, httpClient),
			limiter,
			publish.Backoff{
				Base:   time.Duration(profile.Publisher.BackoffBaseMs) * time.Millisecond,
				Max:    time.Duration(profile.Publisher.BackoffMaxMs) * time.Millisecond,
				Factor: profile.Publisher.BackoffFactor,
				Jitter: profile.Publisher.BackoffJitter,
			},
			profile.Publisher.MaxAttempts,
			logger,
		),
		Extractor:       payloadExtractor{roles: profile.Acquirer.RequiredRoles},
		Checkpointer:    offsets,
		Scope:           scope,
		DecisionScope:   profile.DecisionScope,
		RunConfigDigest: profile.Digest(),
		Producer:        profile.Producer,
		PollInterval:    time.Duration(profile.Worker.PollIntervalMs) * time.Millisecond,
		Metrics:         metrics,
		Tally:           tally,
		Logger:          logger,
	})

	reader, closeReader, err := openReader(recordsPath)
	if err != nil {
		return err
	}
	defer closeReader()

	logger.Info("decision core starting", "worker_id", pipeline.WorkerID(),
		"scope", scope.String(), "run_config_digest", profile.Digest())

	runErr := pipeline.Run(ctx, reader)

	snapshotOut := pipeline.ReconciliationSnapshot()
	logger.Info("decision core stopped",
		"records_seen", snapshotOut.RecordsSeen,
		"accepted", snapshotOut.Accepted,
		"committed", snapshotOut.Committed,
		"ledger_replays", snapshotOut.LedgerReplays,
		"ledger_mismatches", snapshotOut.LedgerMismatches,
	)
	return runErr
}

// openStore selects the SQL driver by DSN scheme: sqlite:<path> or a
// postgres:// URL.
func openStore(dsn string) (*sql.DB, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sql.Open("sqlite", strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres://"):
		return sql.Open("postgres", dsn)
	}
	return nil, fmt.Errorf("unsupported storage dsn %q", dsn)
}

func collisionGuard(profile *config.Profile) (inlet.CollisionGuard, error) {
	if profile.Inlet.RedisDSN == "" {
		return inlet.NewMemoryCollisionGuard(), nil
	}
	opts, err := redis.ParseURL(profile.Inlet.RedisDSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	ttl := time.Duration(profile.Inlet.GuardTTLSecond) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return inlet.NewRedisCollisionGuard(redis.NewClient(opts), ttl), nil
}
