package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freshmarket/api/internal/payments"
	"github.com/freshmarket/api/internal/platform/config"
	"github.com/freshmarket/api/internal/repositories"
	"github.com/freshmarket/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Pricing  services.PricingService
	Verifier services.PaymentVerifier
	Catalog  services.CatalogService
	System   services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerOption customises container assembly.
type ContainerOption func(*containerDeps)

type containerDeps struct {
	gateway payments.Gateway
	events  services.OrderEventPublisher
	logger  func(ctx context.Context, event string, fields map[string]any)
	clock   func() time.Time
}

// WithPaymentGateway supplies the payment gateway client. When omitted the
// verifier is assembled without one and rejects every verified payment.
func WithPaymentGateway(gateway payments.Gateway) ContainerOption {
	return func(d *containerDeps) {
		d.gateway = gateway
	}
}

// WithEventPublisher supplies the order lifecycle event publisher.
func WithEventPublisher(events services.OrderEventPublisher) ContainerOption {
	return func(d *containerDeps) {
		d.events = events
	}
}

// WithServiceLogger supplies the structured logging callback handed to services.
func WithServiceLogger(logger func(ctx context.Context, event string, fields map[string]any)) ContainerOption {
	return func(d *containerDeps) {
		d.logger = logger
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) ContainerOption {
	return func(d *containerDeps) {
		d.clock = clock
	}
}

// NewContainer constructs the runtime dependencies. Production wiring supplies a Firestore
// backed registry, while tests can provide in-memory implementations.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	deps := containerDeps{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}

	svc, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients and messaging topics.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps containerDeps) (Services, error) {
	var svc Services

	catalogRepo := reg.Catalog()
	if catalogRepo == nil {
		return Services{}, errors.New("catalog repository is required")
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: catalogRepo,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	pricingSvc, err := services.NewPricingService(services.PricingServiceDeps{
		Catalog:            catalogRepo,
		DefaultShippingFee: cfg.Checkout.DefaultShippingFee,
		FreeShippingOver:   cfg.Checkout.FreeShippingOver,
		Logger:             deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}
	svc.Pricing = pricingSvc

	svc.Verifier = services.NewPaymentVerifier(services.PaymentVerifierDeps{
		Gateway: deps.gateway,
		Logger:  deps.logger,
	})

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Counters:   reg.Counters(),
		Pricing:    pricingSvc,
		Verifier:   svc.Verifier,
		UnitOfWork: reg,
		Clock:      deps.clock,
		Events:     deps.events,
		Logger:     deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			Health: healthRepo,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
