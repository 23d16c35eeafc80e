// Package config loads runtime settings from the environment, an optional dotenv file and
// Secret Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
)

const (
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultMailCollection       = "mail"
	defaultMailBrand            = "DOX Visumpartner"
	defaultCurrency             = "SEK"
	defaultScannedCopiesFee     = 200
	defaultPickupFee            = 450
	defaultExpressFee           = 500
	defaultReturnFees           = "postnord-rek=85,dhl-sweden=180,dhl-europe=250,dhl-worldwide=450,dhl-pre-12=350,dhl-pre-9=450," +
		"stockholm-city=120,stockholm-express=180,stockholm-sameday=250,own-delivery=0,office-pickup=0"
	defaultTTLEmbassyPrice  = 14 * 24 * time.Hour
	defaultTTLAddress       = 7 * 24 * time.Hour
	defaultTTLQuote         = 30 * 24 * time.Hour
	defaultPublicBaseURL    = "https://doxvl.se"
	defaultEmbassyPricePath = "confirm-embassy-price"
	defaultAddressPath      = "confirm-address"
	defaultQuotePath        = "quote"
	defaultRateWindow       = time.Minute
	defaultConfirmationRate = 10
	defaultOrderCreateRate  = 3
	defaultStaffSendRate    = 10
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	PubSub        PubSubConfig
	Mail          MailConfig
	Pricing       PricingConfig
	Confirmations ConfirmationConfig
	RateLimits    RateLimitConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CredentialsJSON holds a service account key, usually resolved from Secret Manager.
	CredentialsJSON string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig selects where confirmation events are published. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID         string
	ConfirmationTopic string
}

// MailConfig describes the mail dispatch collection.
type MailConfig struct {
	Collection string
	Brand      string
}

// PricingConfig holds the flat surcharges applied by the price calculator, in whole currency units.
type PricingConfig struct {
	Currency         string
	ScannedCopiesFee int64
	PickupFee        int64
	ExpressFee       int64
	ReturnFees       map[string]int64
}

// FeeSchedule converts the surcharges to the calculator's schedule.
func (c PricingConfig) FeeSchedule() domain.FeeSchedule {
	returns := make(map[domain.ReturnTier]int64, len(c.ReturnFees))
	for tier, fee := range c.ReturnFees {
		returns[domain.ReturnTier(tier)] = fee
	}
	return domain.FeeSchedule{
		Currency:          c.Currency,
		ScannedCopiesFee:  c.ScannedCopiesFee,
		PickupFee:         c.PickupFee,
		ExpressFee:        c.ExpressFee,
		ReturnServiceFees: returns,
	}
}

// ConfirmationConfig controls token lifetimes and the public links mailed to customers.
type ConfirmationConfig struct {
	EmbassyPriceTTL  time.Duration
	AddressTTL       time.Duration
	QuoteTTL         time.Duration
	PublicBaseURL    string
	EmbassyPricePath string
	AddressPath      string
	QuotePath        string
}

// RateBudget is a request budget over a rolling window.
type RateBudget struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	Confirmation RateBudget
	OrderCreate  RateBudget
	StaffSend    RateBudget
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification. An empty AllowedCallers list accepts any
// service account that passes audience and issuer checks.
type OIDCConfig struct {
	JWKSURL        string
	Audience       string
	Audiences      map[string]string
	Issuers        []string
	AllowedCallers []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	// RedisURL selects the Redis store instead of Firestore when set.
	RedisURL string
}

// Load reads every API_* setting, applies defaults, resolves secret references and validates
// the result. Later sources win: dotenv file, process environment, WithEnvMap.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	env, err := newSource(options)
	if err != nil {
		return Config{}, err
	}

	returnFees, badTiers := env.fees("API_PRICING_RETURN_FEES", defaultReturnFees)
	invalid := make([]string, 0, len(badTiers))
	for _, tier := range badTiers {
		invalid = append(invalid, fmt.Sprintf("Pricing.ReturnFees[%s]", tier))
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
			CredentialsJSON: env.str("API_FIREBASE_CREDENTIALS_JSON", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:         env.str("API_PUBSUB_PROJECT_ID", ""),
			ConfirmationTopic: env.str("API_PUBSUB_CONFIRMATION_TOPIC", ""),
		},
		Mail: MailConfig{
			Collection: env.str("API_MAIL_COLLECTION", defaultMailCollection),
			Brand:      env.str("API_MAIL_BRAND", defaultMailBrand),
		},
		Pricing: PricingConfig{
			Currency:         strings.ToUpper(env.str("API_PRICING_CURRENCY", defaultCurrency)),
			ScannedCopiesFee: env.int64("API_PRICING_SCANNED_COPIES_FEE", defaultScannedCopiesFee),
			PickupFee:        env.int64("API_PRICING_PICKUP_FEE", defaultPickupFee),
			ExpressFee:       env.int64("API_PRICING_EXPRESS_FEE", defaultExpressFee),
			ReturnFees:       returnFees,
		},
		Confirmations: ConfirmationConfig{
			EmbassyPriceTTL:  env.duration("API_CONFIRMATION_TTL_EMBASSY_PRICE", defaultTTLEmbassyPrice),
			AddressTTL:       env.duration("API_CONFIRMATION_TTL_ADDRESS", defaultTTLAddress),
			QuoteTTL:         env.duration("API_CONFIRMATION_TTL_QUOTE", defaultTTLQuote),
			PublicBaseURL:    env.str("API_CONFIRMATION_PUBLIC_BASE_URL", defaultPublicBaseURL),
			EmbassyPricePath: env.str("API_CONFIRMATION_PATH_EMBASSY_PRICE", defaultEmbassyPricePath),
			AddressPath:      env.str("API_CONFIRMATION_PATH_ADDRESS", defaultAddressPath),
			QuotePath:        env.str("API_CONFIRMATION_PATH_QUOTE", defaultQuotePath),
		},
		RateLimits: RateLimitConfig{
			Confirmation: env.budget("API_RATELIMIT_CONFIRMATION", defaultConfirmationRate),
			OrderCreate:  env.budget("API_RATELIMIT_ORDER_CREATE", defaultOrderCreateRate),
			StaffSend:    env.budget("API_RATELIMIT_STAFF_SEND", defaultStaffSendRate),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:        env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:       env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences:      env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:        env.list("API_SECURITY_OIDC_ISSUERS"),
				AllowedCallers: env.list("API_SECURITY_OIDC_ALLOWED_CALLERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.int("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
			RedisURL:         env.str("API_IDEMPOTENCY_REDIS_URL", ""),
		},
	}
	cfg.applyFallbacks()

	secrets := &secretFields{resolver: options.secret, resolved: map[string]string{}}
	if err := secrets.resolve(ctx, "Firebase.CredentialsJSON", &cfg.Firebase.CredentialsJSON); err != nil {
		return Config{}, err
	}
	if err := secrets.resolve(ctx, "Idempotency.RedisURL", &cfg.Idempotency.RedisURL); err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg, invalid...); err != nil {
		return Config{}, err
	}
	if missing := secrets.missing(options.requiredSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// applyFallbacks derives unset project ids, issuers and the audience from related settings.
func (c *Config) applyFallbacks() {
	if c.Firestore.ProjectID == "" {
		c.Firestore.ProjectID = c.Firebase.ProjectID
	}
	if c.PubSub.ProjectID == "" {
		c.PubSub.ProjectID = c.Firestore.ProjectID
	}
	if len(c.Security.OIDC.Issuers) == 0 {
		c.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if c.Security.OIDC.Audience == "" {
		c.Security.OIDC.Audience = c.Security.OIDC.Audiences[c.Security.Environment]
	}
}
