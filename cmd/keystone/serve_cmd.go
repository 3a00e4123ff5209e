package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keystone/internal/config"
	"keystone/internal/domain"
	"keystone/internal/infra/auditmem"
	"keystone/internal/infra/auth/oidc"
	"keystone/internal/infra/checkpoint"
	"keystone/internal/infra/db"
	"keystone/internal/infra/deploy"
	httpapi "keystone/internal/infra/http"
	"keystone/internal/infra/ledger"
	"keystone/internal/infra/notify"
	"keystone/internal/infra/policyopa"
	"keystone/internal/infra/ratelimit"
	"keystone/internal/infra/registry"
	"keystone/internal/infra/secrets"
	"keystone/internal/infra/sessions"
	"keystone/internal/infra/token"
	"keystone/internal/infra/tokenindex"
	"keystone/internal/logging"
	"keystone/internal/metrics"
	"keystone/internal/usecase"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, log); err != nil && ctx.Err() == nil {
		log.Error("serve failed", zap.Error(err))
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if err := resolveSecrets(ctx, &cfg); err != nil {
		return err
	}
	clock := func() time.Time { return time.Now().UTC() }

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
	}

	// Storage: postgres when a DSN is configured, in-process otherwise.
	var (
		keyStore    registry.KeyStore
		revocations usecase.RevocationLedger
		suspensions usecase.SuspensionStore
		auditRepo   usecase.AuditEventRepository
		heads       checkpoint.HeadSource
		archiver    usecase.Archiver
		recorder    deploy.DeploymentRecorder
	)
	if cfg.DatabaseDSN != "" {
		conn, err := db.Open(cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		keyStore = db.NewKeyRepository(conn)
		revocations = db.NewRevocationRepository(conn)
		suspensions = db.NewSuspensionRepository(conn)
		audit := db.NewAuditRepositoryWithClock(conn, clock)
		auditRepo = audit
		heads = audit
		archiver = db.NewArchiveRepository(conn, clock)
		recorder = db.NewDeploymentRepository(conn)
	} else {
		log.Warn("no database configured, state is process-local")
		audit := auditmem.NewWithClock(clock)
		auditRepo = audit
		heads = audit
	}
	if revocations == nil {
		if redisClient != nil {
			redisLedger, err := ledger.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, clock)
			if err != nil {
				return err
			}
			defer redisLedger.Close()
			revocations = redisLedger
		} else {
			revocations = ledger.NewMemory()
		}
	}

	var tokens usecase.TokenIndex
	if redisClient != nil {
		redisIndex, err := tokenindex.NewRedis(redisClient, clock)
		if err != nil {
			return err
		}
		tokens = redisIndex
	} else {
		tokens = tokenindex.NewMemoryWithClock(clock)
	}

	reg := registry.New(keyStore, registry.WithClock(clock))
	if err := reg.Restore(ctx); err != nil {
		return err
	}

	signer := &token.Signer{Now: clock}
	coordinator := &deploy.Coordinator{
		Tiers:         buildTiers(redisClient),
		Health:        &token.Health{Signer: signer},
		Records:       recorder,
		Clock:         clock,
		HealthTimeout: cfg.HealthCheckTimeout,
		Log:           log.Named("deploy"),
	}

	emitter := usecase.NewAuditEmitter(auditRepo, clock)
	mtr := metrics.New()

	var terminator usecase.SessionTerminator
	if redisClient != nil {
		terminator = &sessions.RedisBroadcaster{Client: redisClient, Clock: clock, Log: log.Named("sessions")}
	} else {
		terminator = &sessions.LogTerminator{Log: log.Named("sessions")}
	}

	verifier := &usecase.TokenVerifier{
		Registry: reg,
		Ledger:   revocations,
		Signer:   signer,
		RefSalt:  cfg.TokenRefSalt,
		Clock:    clock,
	}
	accounts := &usecase.AccountManager{
		Ledger:      revocations,
		Tokens:      tokens,
		Archiver:    archiver,
		Suspensions: suspensions,
		Audit:       emitter,
		Clock:       clock,
	}
	rotations := &usecase.RotationController{
		Registry:      reg,
		Deployer:      coordinator,
		Ledger:        revocations,
		Tokens:        tokens,
		Signer:        signer,
		Audit:         emitter,
		Notifier:      &notify.LogDispatcher{Log: log.Named("notify")},
		Sessions:      terminator,
		Clock:         clock,
		Log:           log.Named("rotation"),
		Algorithm:     domain.KeyAlgorithm(cfg.KeyAlgorithm),
		StrengthBits:  cfg.KeyStrengthBits,
		DualKeyWindow: cfg.DualKeyWindow,
	}

	policy, err := policyopa.NewEngineFromBundlePath(ctx, cfg.PolicyBundlePath, cfg.PolicyBundleID)
	if err != nil {
		return err
	}

	var adminAuth *oidc.Authenticator
	if cfg.OIDCIssuer != "" && cfg.OIDCJWKSURL != "" {
		adminAuth = oidc.NewAuthenticator(cfg.OIDCIssuer, cfg.OIDCJWKSURL, cfg.OIDCAudience, cfg.OIDCAdminRole, nil)
	}

	limiter := buildLimiter(redisClient, cfg, clock)

	server, err := httpapi.NewServerWithDeps(cfg, httpapi.ServerDeps{
		Registry:    reg,
		Verifier:    verifier,
		Accounts:    accounts,
		Rotations:   rotations,
		Compliance:  &usecase.ComplianceReporter{Audit: auditRepo},
		AuditRepo:   auditRepo,
		Policy:      policy,
		AdminAuth:   adminAuth,
		RateLimiter: limiter,
		Metrics:     mtr,
		Log:         log.Named("http"),
		Clock:       clock,
	})
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("env", cfg.Env))
		return server.Run(gctx)
	})
	group.Go(func() error {
		return maintenanceLoop(gctx, cfg.CleanupInterval, clock, revocations, tokens, rotations, mtr, log)
	})
	if cfg.CheckpointWebhookURL != "" {
		publisher := &checkpoint.Service{
			Heads: heads,
			Publishers: []checkpoint.Publisher{
				&checkpoint.Webhook{Name: "witness", URL: cfg.CheckpointWebhookURL, Clock: clock},
			},
			Clock: clock,
			Log:   log.Named("checkpoint"),
		}
		group.Go(func() error {
			return publisher.Run(gctx, cfg.CheckpointInterval)
		})
	}
	return group.Wait()
}

// maintenanceLoop expires revocation entries and outstanding-token records
// and closes graceful rotations whose dual-key window has elapsed.
func maintenanceLoop(
	ctx context.Context,
	interval time.Duration,
	clock func() time.Time,
	revocations usecase.RevocationLedger,
	tokens usecase.TokenIndex,
	rotations *usecase.RotationController,
	mtr *metrics.Metrics,
	log *zap.Logger,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := clock()
			if removed, err := revocations.Cleanup(ctx, now); err != nil {
				log.Warn("ledger cleanup failed", zap.Error(err))
			} else if removed > 0 {
				log.Info("ledger cleanup", zap.Int("removed", removed))
			}
			if pruner, ok := tokens.(interface {
				Prune(context.Context, time.Time) (int, error)
			}); ok {
				if _, err := pruner.Prune(ctx, now); err != nil {
					log.Warn("token index prune failed", zap.Error(err))
				}
			}
			if counter, ok := revocations.(interface{ Len() int }); ok {
				mtr.LedgerSize.Set(float64(counter.Len()))
			}
			if err := rotations.AdvanceDueRotations(ctx, now); err != nil {
				log.Error("rotation advance failed", zap.Error(err))
			}
		}
	}
}

func buildTiers(redisClient *redis.Client) []deploy.TierApplier {
	if redisClient == nil {
		return []deploy.TierApplier{
			&deploy.MemoryTier{TierName: domain.TierValidation},
			&deploy.MemoryTier{TierName: domain.TierAPI},
			&deploy.MemoryTier{TierName: domain.TierEdge},
		}
	}
	tiers := make([]deploy.TierApplier, 0, len(domain.DefaultTierOrder()))
	for _, name := range domain.DefaultTierOrder() {
		tiers = append(tiers, &deploy.RedisTier{TierName: name, Client: redisClient})
	}
	return tiers
}

func buildLimiter(redisClient *redis.Client, cfg config.Config, clock func() time.Time) domain.RateLimiter {
	if cfg.RateLimitPerMinute <= 0 {
		return nil
	}
	if redisClient != nil {
		if limiter, err := ratelimit.NewRedis(redisClient, clock); err == nil {
			return limiter
		}
	}
	return ratelimit.NewMemory(ratelimit.MemoryConfig{Clock: clock})
}

// resolveSecrets replaces scheme://name config values with fetched secret
// material. Sources are registered only when their backend is configured.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	sources := map[string]secrets.Source{}
	if cfg.AWSRegion != "" && cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		sources["aws-sm"] = secrets.NewSecretsManager(
			cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSSessionToken)
	}
	if cfg.VaultAddr != "" && cfg.VaultToken != "" {
		sources["vault"] = secrets.NewVault(cfg.VaultAddr, cfg.VaultToken)
	}

	var err error
	if cfg.AdminAPIKey, err = secrets.Resolve(ctx, sources, cfg.AdminAPIKey); err != nil {
		return err
	}
	if cfg.TokenRefSalt, err = secrets.Resolve(ctx, sources, cfg.TokenRefSalt); err != nil {
		return err
	}
	if cfg.RedisPassword, err = secrets.Resolve(ctx, sources, cfg.RedisPassword); err != nil {
		return err
	}
	if cfg.DatabaseDSN, err = secrets.Resolve(ctx, sources, cfg.DatabaseDSN); err != nil {
		return err
	}
	return nil
}
