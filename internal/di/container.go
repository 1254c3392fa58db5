package di

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/carrier"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/payments"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/auth"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/config"
	pfirestore "github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/firestore"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/idempotency"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/jobs"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/locking"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/observability"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/storage"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
	firestoreRepo "github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories/firestore"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
)

const (
	redisKeyPrefix     = "fulfillment"
	closeTimeout       = 5 * time.Second
	firebaseVerifyWait = 5 * time.Second
)

// Services bundles the service-layer contracts that handlers and jobs rely upon. Payments is nil
// when no gateway credential is configured.
type Services struct {
	Checkout      services.CheckoutValidator
	COD           services.CODOrderService
	Payments      services.PaymentConfirmationService
	Shipping      services.ShippingSyncService
	Notifications services.NotificationDispatcher
}

// Container wires clients, repositories and services for one process.
type Container struct {
	Config        config.Config
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Services      Services
	Health        repositories.HealthRepository
	Idempotency   idempotency.Store
	Authenticator *auth.Authenticator

	closers []func(context.Context) error
}

type containerOptions struct {
	withAuth bool
	metrics  *observability.Metrics
}

// Option customises NewContainer.
type Option func(*containerOptions)

// WithFirebaseAuth builds the ID token verifier used by customer and admin routes.
func WithFirebaseAuth() Option {
	return func(o *containerOptions) { o.withAuth = true }
}

// WithMetrics shares an existing metrics registry instead of creating one.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *containerOptions) { o.metrics = m }
}

// NewContainer constructs the runtime dependencies. Optional backends (Redis, Pub/Sub, the archive
// bucket, Stripe) degrade to in-process or disabled implementations when unconfigured.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o containerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	metrics := o.metrics
	if metrics == nil {
		metrics = observability.NewMetrics("fulfillment")
	}

	c := &Container{Config: cfg, Logger: logger, Metrics: metrics}
	if err := c.build(ctx, o); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, o containerOptions) error {
	cfg := c.Config
	events := observability.EventLogger(c.Logger)
	var clientOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}

	provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	c.closers = append(c.closers, provider.Close)

	ledger, err := firestoreRepo.NewStockLedger(provider)
	if err != nil {
		return fmt.Errorf("build stock ledger: %w", err)
	}
	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return fmt.Errorf("build order repository: %w", err)
	}
	outbox, err := firestoreRepo.NewOutboxRepository(provider)
	if err != nil {
		return fmt.Errorf("build outbox repository: %w", err)
	}

	checks := []repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}

	var redisClient redis.UniversalClient
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redis.SetLogger(observability.NewPrintfAdapter(c.Logger.Named("redis")))
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		redisClient = client
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Optional: true,
			Check:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	var locker locking.Locker = locking.NewLocalLocker()
	c.Idempotency = idempotency.NewMemoryStore()
	if redisClient != nil {
		redisLocker, err := locking.NewRedisLocker(redisClient, redisKeyPrefix)
		if err != nil {
			return fmt.Errorf("build redis locker: %w", err)
		}
		locker = redisLocker
		store, err := idempotency.NewRedisStore(redisClient, redisKeyPrefix)
		if err != nil {
			return fmt.Errorf("build idempotency store: %w", err)
		}
		c.Idempotency = store
	} else {
		c.Logger.Warn("redis not configured; sync lock and idempotency keys are process-local")
	}

	var archive *storage.Archive
	if bucket := strings.TrimSpace(cfg.Storage.ArchiveBucket); bucket != "" {
		gcsClient, err := gcs.NewClient(ctx, clientOpts...)
		if err != nil {
			return fmt.Errorf("build storage client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return gcsClient.Close() })
		sink, err := storage.NewGCSSink(gcsClient)
		if err != nil {
			return fmt.Errorf("build storage sink: %w", err)
		}
		archive = storage.NewArchive(sink, bucket)
	}

	var dispatcher services.NotificationDispatcher
	if topicName := strings.TrimSpace(cfg.PubSub.NotificationsTopic); topicName != "" && cfg.PubSub.ProjectID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOpts...)
		if err != nil {
			return fmt.Errorf("build pubsub client: %w", err)
		}
		topic := psClient.Topic(topicName)
		c.closers = append(c.closers, func(context.Context) error {
			topic.Stop()
			return psClient.Close()
		})
		checks = append(checks, repositories.DependencyCheck{
			Name:     "pubsub",
			Optional: true,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err == nil && !ok {
					err = fmt.Errorf("topic %s does not exist", topicName)
				}
				return err
			},
		})
		publisher, err := jobs.NewPubSubNotificationPublisher(topic)
		if err != nil {
			return err
		}
		dispatcher, err = services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
			Outbox:      outbox,
			Publisher:   publisher,
			Metrics:     c.Metrics,
			MaxAttempts: cfg.Jobs.NotificationMaxAttempts,
			Logger:      events,
		})
		if err != nil {
			return fmt.Errorf("build notification dispatcher: %w", err)
		}
	}
	c.Services.Notifications = dispatcher

	var gateway payments.Gateway
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		stripeGateway, err := payments.NewStripeGateway(stripeGatewayConfig(cfg.PSP, events))
		if err != nil {
			return fmt.Errorf("build stripe gateway: %w", err)
		}
		gateway = stripeGateway
	} else {
		c.Logger.Warn("stripe not configured; hosted checkout and payment webhooks are disabled")
	}

	numbers := services.NewOrderNumberGenerator(cfg.Orders.OrderNumberPrefix, time.Now, rand.Reader)

	validatorDeps := services.CheckoutValidatorDeps{
		Products:   ledger,
		Currency:   cfg.Orders.Currency,
		SuccessURL: cfg.PSP.SuccessURL,
		CancelURL:  cfg.PSP.CancelURL,
		Logger:     events,
	}
	if gateway != nil {
		validatorDeps.Payments = gateway
	}
	validator, err := services.NewCheckoutValidator(validatorDeps)
	if err != nil {
		return fmt.Errorf("build checkout validator: %w", err)
	}
	c.Services.Checkout = validator

	c.Services.COD, err = services.NewCODOrderService(services.CODOrderServiceDeps{
		Validator:        validator,
		Orders:           orders,
		Notifications:    dispatcher,
		OrderNumbers:     numbers,
		PhoneCountryCode: cfg.Orders.PhoneCountryCode,
		Metrics:          c.Metrics,
		Logger:           events,
	})
	if err != nil {
		return fmt.Errorf("build cod order service: %w", err)
	}

	if gateway != nil {
		c.Services.Payments, err = services.NewPaymentConfirmationService(services.PaymentConfirmationServiceDeps{
			Gateway:       gateway,
			Products:      ledger,
			Orders:        orders,
			Notifications: dispatcher,
			Archive:       archive,
			OrderNumbers:  numbers,
			Currency:      cfg.Orders.Currency,
			Metrics:       c.Metrics,
			Logger:        events,
		})
		if err != nil {
			return fmt.Errorf("build payment confirmation service: %w", err)
		}
	}

	c.Services.Shipping, err = services.NewShippingSyncService(services.ShippingSyncServiceDeps{
		Orders: orders,
		Carrier: carrier.NewHTTPClient(carrier.HTTPClientConfig{
			BaseURL:    cfg.Carrier.BaseURL,
			APIKey:     cfg.Carrier.APIKey,
			Timeout:    cfg.Carrier.Timeout,
			MaxRetries: cfg.Carrier.MaxRetries,
		}),
		Locker:  locker,
		Archive: archive,
		LockTTL: cfg.Redis.SyncLockTTL,
		Metrics: c.Metrics,
		Logger:  events,
	})
	if err != nil {
		return fmt.Errorf("build shipping sync service: %w", err)
	}

	c.Health, err = repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return fmt.Errorf("build health repository: %w", err)
	}

	if o.withAuth {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseVerifyWait)
		if err != nil {
			return fmt.Errorf("build firebase verifier: %w", err)
		}
		c.Authenticator = auth.NewAuthenticator(verifier)
	}
	return nil
}

func stripeGatewayConfig(psp config.PSPConfig, logger func(context.Context, string, map[string]any)) payments.StripeGatewayConfig {
	return payments.StripeGatewayConfig{
		APIKey:            psp.StripeAPIKey,
		WebhookSecret:     psp.StripeWebhookSecret,
		ShippingCountries: psp.ShippingCountries,
		Logger:            logger,
	}
}

// Close releases clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
