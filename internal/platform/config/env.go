package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the dotenv file. An empty path skips it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap adds values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets fails Load when a named field (e.g. "Firebase.CredentialsJSON") resolves empty.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic instead of returning MissingSecretsError.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged environment Load would read: the dotenv file, then the
// process environment, then WithEnvMap, later layers winning. main uses it to configure the
// secret fetcher before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.values, nil
}

// source is the merged key/value view the loader reads from.
type source struct {
	values map[string]string
}

func newSource(options loaderOptions) (source, error) {
	values := make(map[string]string)
	if options.envFile != "" {
		dotenv, err := godotenv.Read(options.envFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return source{}, fmt.Errorf("config: read %s: %w", options.envFile, err)
		default:
			maps.Copy(values, dotenv)
		}
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	maps.Copy(values, options.envMap)
	return source{values: values}, nil
}

func (s source) str(key, fallback string) string {
	if value := s.values[key]; value != "" {
		return value
	}
	return fallback
}

func (s source) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s.values[key])); err == nil {
		return d
	}
	return fallback
}

func (s source) int(key string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(s.values[key])); err == nil {
		return n
	}
	return fallback
}

func (s source) int64(key string, fallback int64) int64 {
	if n, err := strconv.ParseInt(strings.TrimSpace(s.values[key]), 10, 64); err == nil {
		return n
	}
	return fallback
}

func (s source) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(s.values[key], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs parses "name=value" lists; names are lower-cased and entries missing either side are skipped.
func (s source) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range s.list(key) {
		name, value, _ := strings.Cut(entry, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// fees parses "tier=amount" lists, falling back when the key is unset. Tiers with a malformed or
// negative amount are returned separately so validation can name them.
func (s source) fees(key, fallback string) (map[string]int64, []string) {
	raw := s.str(key, fallback)
	if strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	values := make(map[string]int64)
	var invalid []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, amount, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			invalid = append(invalid, entry)
			continue
		}
		fee, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if err != nil || fee < 0 {
			invalid = append(invalid, name)
			continue
		}
		values[name] = fee
	}
	return values, invalid
}

// budget reads KEY as the limit and KEY_WINDOW as its window.
func (s source) budget(key string, fallback int) RateBudget {
	return RateBudget{Limit: s.int(key, fallback), Window: s.duration(key+"_WINDOW", defaultRateWindow)}
}
