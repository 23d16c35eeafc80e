package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/doxvl/legalization-api/internal/handlers"
	"github.com/doxvl/legalization-api/internal/platform/auth"
	"github.com/doxvl/legalization-api/internal/platform/config"
	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
	"github.com/doxvl/legalization-api/internal/platform/idempotency"
	"github.com/doxvl/legalization-api/internal/platform/jobs"
	"github.com/doxvl/legalization-api/internal/platform/observability"
	"github.com/doxvl/legalization-api/internal/platform/secrets"
	"github.com/doxvl/legalization-api/internal/repositories"
	firestoreRepo "github.com/doxvl/legalization-api/internal/repositories/firestore"
	"github.com/doxvl/legalization-api/internal/services"
)

const serviceName = "legalization-api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithCredentials(cfg.Firebase))
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	idempotencyStore, redisStore, err := newIdempotencyStore(cfg.Idempotency, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	if redisStore != nil {
		logger.Info("idempotency: using redis store")
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	systemService, err := newSystemService(firestoreProvider, fetcher, redisStore, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	embassyPriceRepo, err := firestoreRepo.NewEmbassyPriceConfirmationRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise embassy price confirmation repository", zap.Error(err))
	}
	addressConfirmationRepo, err := firestoreRepo.NewAddressConfirmationRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise address confirmation repository", zap.Error(err))
	}
	quoteRepo, err := firestoreRepo.NewQuoteRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise quote repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}
	mailQueueRepo, err := firestoreRepo.NewMailQueueRepository(firestoreProvider, cfg.Mail.Collection)
	if err != nil {
		logger.Fatal("failed to initialise mail queue repository", zap.Error(err))
	}
	pricingRuleRepo, err := firestoreRepo.NewPricingRuleRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise pricing rule repository", zap.Error(err))
	}
	unitOfWork := pfirestore.NewUnitOfWork(firestoreProvider)

	counterService, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: counterRepo,
	})
	if err != nil {
		logger.Fatal("failed to initialise counter service", zap.Error(err))
	}

	pricingService, err := services.NewPricingService(services.PricingServiceDeps{
		Rules:  pricingRuleRepo,
		Fees:   cfg.Pricing.FeeSchedule(),
		Clock:  time.Now,
		Logger: observability.NewEventLogger(logger, "pricing"),
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   orderRepo,
		Pricing:  pricingService,
		Counters: counterService,
		Clock:    time.Now,
		Logger:   observability.NewEventLogger(logger, "orders"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	orderMutator, err := services.NewOrderMutator(services.OrderMutatorDeps{
		Orders: orderRepo,
		Clock:  time.Now,
		Logger: observability.NewEventLogger(logger, "orders"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order mutator", zap.Error(err))
	}

	mailNotifier, err := services.NewMailNotifier(services.MailNotifierDeps{
		Queue: mailQueueRepo,
		Brand: cfg.Mail.Brand,
		Clock: time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise mail notifier", zap.Error(err))
	}

	var eventPublisher services.EventPublisher
	pubsubClient, topic, err := newConfirmationTopic(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise pubsub topic", zap.Error(err))
	}
	if topic != nil {
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewConfirmationEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise confirmation event publisher", zap.Error(err))
		}
		eventPublisher = publisher
	} else {
		logger.Info("pubsub: confirmation topic not configured; events disabled")
	}

	confirmationService, err := services.NewConfirmationService(services.ConfirmationServiceDeps{
		EmbassyPrices: embassyPriceRepo,
		Addresses:     addressConfirmationRepo,
		Quotes:        quoteRepo,
		Orders:        orderRepo,
		Mutator:       orderMutator,
		UnitOfWork:    unitOfWork,
		Notifier:      mailNotifier,
		Events:        eventPublisher,
		TTLs: services.ConfirmationTTLs{
			EmbassyPrice: cfg.Confirmations.EmbassyPriceTTL,
			Address:      cfg.Confirmations.AddressTTL,
			Quote:        cfg.Confirmations.QuoteTTL,
		},
		Links: services.ConfirmationLinks{
			BaseURL:          cfg.Confirmations.PublicBaseURL,
			EmbassyPricePath: cfg.Confirmations.EmbassyPricePath,
			AddressPath:      cfg.Confirmations.AddressPath,
			QuotePath:        cfg.Confirmations.QuotePath,
		},
		Meter:  otel.Meter(serviceName),
		Clock:  time.Now,
		Logger: observability.NewEventLogger(logger, "confirmations"),
	})
	if err != nil {
		logger.Fatal("failed to initialise confirmation service", zap.Error(err))
	}

	limits := cfg.RateLimits
	confirmationHandlers := handlers.NewConfirmationHandlers(confirmationService,
		handlers.WithConfirmationRateLimit(limits.Confirmation.Limit, limits.Confirmation.Window),
	)
	orderHandlers := handlers.NewOrderHandlers(orderService,
		handlers.WithOrderCreateRateLimit(limits.OrderCreate.Limit, limits.OrderCreate.Window),
		handlers.WithOrderLookupRateLimit(limits.Confirmation.Limit, limits.Confirmation.Window),
	)
	pricingHandlers := handlers.NewPricingHandlers(pricingService,
		handlers.WithPricingRateLimit(limits.Confirmation.Limit, limits.Confirmation.Window),
	)
	adminHandlers := handlers.NewAdminConfirmationHandlers(authenticator, confirmationService,
		handlers.WithAdminSendMiddlewares(idempotencyMiddleware),
		handlers.WithAdminSendRateLimit(limits.StaffSend.Limit, limits.StaffSend.Window),
	)
	internalHandlers := handlers.NewInternalConfirmationHandlers(confirmationService)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithConfirmationRoutes(confirmationHandlers.Routes))
	opts = append(opts, handlers.WithOrderRoutes(orderHandlers.Routes))
	opts = append(opts, handlers.WithPricingRoutes(pricingHandlers.Routes))
	opts = append(opts, handlers.WithAdminRoutes(adminHandlers.Routes))
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalRoutes(internalHandlers.Routes))
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware, idempotencyMiddleware))
	} else {
		logger.Warn("auth: OIDC JWKS url not configured; internal routes disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("http server listening",
			zap.String("version", buildInfo.Version),
			zap.String("environment", buildInfo.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newConfirmationTopic returns a nil topic when publishing is disabled.
func newConfirmationTopic(ctx context.Context, cfg config.Config) (*pubsub.Client, *pubsub.Topic, error) {
	topicID := strings.TrimSpace(cfg.PubSub.ConfirmationTopic)
	if topicID == "" {
		return nil, nil, nil
	}
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		projectID = traceProjectID(cfg)
	}
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(cfg.Firebase.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.Firebase.CredentialsJSON)))
	case strings.TrimSpace(cfg.Firebase.CredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true
	return client, topic, nil
}

func newIdempotencyStore(cfg config.IdempotencyConfig, provider *pfirestore.Provider) (idempotency.Store, *idempotency.RedisStore, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		store, err := idempotency.NewFirestoreStore(provider)
		return store, nil, err
	}
	store, err := idempotency.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

func newSystemService(provider *pfirestore.Provider, fetcher *secrets.Fetcher, redisStore *idempotency.RedisStore, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check:    provider.Ping,
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				err := fetcher.Check(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if redisStore != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  time.Second,
			Critical: true,
			Check:    redisStore.Ping,
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
		ReadinessTTL:     2 * time.Second,
	})
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(logger),
		auth.WithOIDCMeter(otel.Meter(serviceName)),
		auth.WithOIDCAllowedCallers(cfg.Security.OIDC.AllowedCallers...),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter(serviceName)),
	}
	if projectMap := secretProjectMapFromEnv(env); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPinsFromEnv(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve. The Firebase key is only required when
// it is configured as a secret reference.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if env != nil {
		raw := strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_JSON"])
		if strings.HasPrefix(raw, "secret://") || strings.HasPrefix(raw, "sm://") {
			required = append(required, "Firebase.CredentialsJSON")
		}
	}
	return uniqueStrings(required)
}

// secretProjectMapFromEnv parses API_SECRET_PROJECT_IDS, e.g. "prod=legal-prod,stg=legal-stg".
func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	for label, project := range parseKeyValueList(env["API_SECRET_PROJECT_IDS"]) {
		projects[strings.ToLower(label)] = project
	}
	return projects
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(env["API_SECRET_VERSION_PINS"]) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
