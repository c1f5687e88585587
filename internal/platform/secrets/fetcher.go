package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
)

// ErrSecretNotFound is returned when neither Secret Manager nor the local fallback holds the secret.
var ErrSecretNotFound = errors.New("secrets: secret not found")

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references using Google Secret Manager with caching and a
// local fallback file for development environments.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool

	logger        *zap.Logger
	env           string
	defaultProjID string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	fallbackPath string
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithEnvironment selects the deployment environment; local environments prefer the fallback file.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) {
		cfg.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithDefaultProject configures the project ID used when a reference omits one.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.defaultProj = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithSecretManagerClient injects a preconfigured Secret Manager client (primarily for tests).
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions appends options used when the fetcher constructs its own client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher constructs a Fetcher for the given environment.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		env:          defaultEnvironment,
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fetcher := &Fetcher{
		client:        cfg.client,
		logger:        logger,
		env:           cfg.env,
		defaultProjID: cfg.defaultProj,
		fallbackPath:  cfg.fallbackPath,
		cache:         make(map[string]cacheEntry),
	}

	if fetcher.client == nil && cfg.env != defaultEnvironment {
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("secrets: create secret manager client: %w", err)
		}
		fetcher.client = client
		fetcher.ownsClient = true
	}

	return fetcher, nil
}

// Close releases the underlying Secret Manager client when owned by the fetcher.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil || !f.ownsClient {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret implements config.SecretResolver for secret://[project/]name[@version] references.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	if f == nil {
		return "", errors.New("secrets: fetcher not initialised")
	}

	name, project, version, err := f.parseReference(ref)
	if err != nil {
		return "", err
	}

	cacheKey := project + "/" + name + "@" + version
	f.mu.RLock()
	if entry, ok := f.cache[cacheKey]; ok {
		f.mu.RUnlock()
		return entry.value, nil
	}
	f.mu.RUnlock()

	value, err := f.fetch(ctx, name, project, version)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.cache[cacheKey] = cacheEntry{value: value, fetchedAt: time.Now()}
	f.mu.Unlock()

	return value, nil
}

func (f *Fetcher) fetch(ctx context.Context, name, project, version string) (string, error) {
	if f.client != nil && project != "" {
		resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		switch {
		case err == nil:
			if resp.GetPayload() == nil {
				return "", fmt.Errorf("secrets: empty payload for %s", resource)
			}
			return string(resp.GetPayload().GetData()), nil
		case status.Code(err) == codes.NotFound:
			f.logger.Warn("secret not found in secret manager, trying fallback",
				zap.String("secret", name), zap.String("project", project))
		default:
			return "", fmt.Errorf("secrets: access %s: %w", resource, err)
		}
	}

	value, ok, err := f.fallbackLookup(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

func (f *Fetcher) fallbackLookup(name string) (string, bool, error) {
	f.fallbackOnce.Do(func() {
		f.fallbackVals, f.fallbackErr = loadFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		return "", false, f.fallbackErr
	}
	value, ok := f.fallbackVals[name]
	return value, ok, nil
}

func (f *Fetcher) parseReference(ref string) (name, project, version string, err error) {
	trimmed := strings.TrimSpace(ref)
	trimmed = strings.TrimPrefix(trimmed, "secret://")
	if trimmed == "" {
		return "", "", "", errors.New("secrets: empty secret reference")
	}

	version = defaultVersion
	if idx := strings.LastIndex(trimmed, "@"); idx >= 0 {
		if v := strings.TrimSpace(trimmed[idx+1:]); v != "" {
			version = v
		}
		trimmed = trimmed[:idx]
	}

	project = f.defaultProjID
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		project = strings.TrimSpace(trimmed[:idx])
		trimmed = trimmed[idx+1:]
	}

	name = strings.TrimSpace(trimmed)
	if name == "" {
		return "", "", "", fmt.Errorf("secrets: invalid secret reference %q", ref)
	}
	return name, project, version, nil
}

func loadFallbackFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: open fallback file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: parse fallback file %s: %w", path, err)
	}
	return values, nil
}
