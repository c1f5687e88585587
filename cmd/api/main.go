package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/freshmarket/api/internal/di"
	"github.com/freshmarket/api/internal/handlers"
	"github.com/freshmarket/api/internal/payments"
	"github.com/freshmarket/api/internal/platform/auth"
	"github.com/freshmarket/api/internal/platform/config"
	pfirestore "github.com/freshmarket/api/internal/platform/firestore"
	"github.com/freshmarket/api/internal/platform/jobs"
	"github.com/freshmarket/api/internal/platform/observability"
	"github.com/freshmarket/api/internal/platform/secrets"
	"github.com/freshmarket/api/internal/repositories"
	firestoreRepo "github.com/freshmarket/api/internal/repositories/firestore"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, secretManagerCheck(fetcher))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	gateway, err := newPaymentGateway(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise payment gateway client", zap.Error(err))
	}

	events, stopEvents, err := newEventPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	defer stopEvents()

	containerOpts := []di.ContainerOption{
		di.WithServiceLogger(observability.ServiceLogger(logger.Named("services"))),
	}
	if events != nil {
		containerOpts = append(containerOpts, di.WithEventPublisher(events))
	}
	if gateway != nil {
		containerOpts = append(containerOpts, di.WithPaymentGateway(gateway))
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	middlewares := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceContextMiddleware(traceProjectID(cfg)),
		observability.RequestLoggerMiddleware(),
		middleware.Timeout(60 * time.Second),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(container.Services.System)),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authenticator, container.Services.Orders)),
		handlers.WithAdminRoutes(handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders)),
		handlers.WithProductRoutes(handlers.NewProductHandlers(container.Services.Catalog)),
	)

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
		serverLogger.Info("freshmarket api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	envLabel := strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT")))
	if envLabel == "" {
		envLabel = "local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project := strings.TrimSpace(os.Getenv("API_SECRET_DEFAULT_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	} else if project := strings.TrimSpace(os.Getenv("API_FIREBASE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if fallback := strings.TrimSpace(os.Getenv("API_SECRET_FALLBACK_FILE")); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	if credentials := strings.TrimSpace(os.Getenv("API_FIREBASE_CREDENTIALS_FILE")); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const healthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.ResolveSecret(ctx, healthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func newPaymentGateway(cfg config.Config, logger *zap.Logger) (payments.Gateway, error) {
	if !cfg.Gateway.Configured() {
		logger.Warn("payment gateway credentials missing; verified payments will be rejected")
		return nil, nil
	}
	return payments.NewPortOneClient(payments.PortOneConfig{
		BaseURL:     cfg.Gateway.BaseURL,
		APIKey:      cfg.Gateway.APIKey,
		APISecret:   cfg.Gateway.APISecret,
		Timeout:     cfg.Gateway.Timeout,
		MaxAttempts: cfg.Gateway.MaxAttempts,
	})
}

func newEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (*jobs.PubSubOrderEventPublisher, func(), error) {
	if strings.TrimSpace(cfg.Events.ProjectID) == "" {
		logger.Warn("events project not configured; order events will not be published")
		return nil, func() {}, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
	if err != nil {
		return nil, nil, err
	}

	topic := client.Topic(cfg.Events.Topic)
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		topic.Stop()
		_ = client.Close()
		return nil, nil, err
	}

	stop := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, stop, nil
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
