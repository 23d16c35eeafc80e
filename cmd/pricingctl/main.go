package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/doxvl/legalization-api/internal/cli"
	"github.com/doxvl/legalization-api/internal/platform/config"
	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
	"github.com/doxvl/legalization-api/internal/platform/observability"
	firestoreRepo "github.com/doxvl/legalization-api/internal/repositories/firestore"
	"github.com/doxvl/legalization-api/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := observability.NewLogger("pricingctl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	root := cli.NewRootCommand(func(ctx context.Context) (services.PricingService, func(), error) {
		return openPricingService(ctx, logger)
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openPricingService(ctx context.Context, logger *zap.Logger) (services.PricingService, func(), error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithCredentials(cfg.Firebase))
	release := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}
	rules, err := firestoreRepo.NewPricingRuleRepository(provider)
	if err != nil {
		release()
		return nil, nil, err
	}
	svc, err := services.NewPricingService(services.PricingServiceDeps{
		Rules:  rules,
		Fees:   cfg.Pricing.FeeSchedule(),
		Logger: observability.NewEventLogger(logger, "pricing"),
	})
	if err != nil {
		release()
		return nil, nil, err
	}
	return svc, release, nil
}
