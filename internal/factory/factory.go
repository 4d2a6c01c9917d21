package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-gateway/internal/audit"
	"marketplace-gateway/internal/authgate"
	"marketplace-gateway/internal/client"
	"marketplace-gateway/internal/config"
	"marketplace-gateway/internal/handler"
	"marketplace-gateway/internal/idp"
	"marketplace-gateway/internal/mailer"
	"marketplace-gateway/internal/otp"
	"marketplace-gateway/internal/ratelimit"
	"marketplace-gateway/internal/reminder"
	"marketplace-gateway/internal/store/redisstore"
	"marketplace-gateway/internal/store/scylla"
	"marketplace-gateway/internal/tls"
	"marketplace-gateway/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.Client
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient
	idpClient        *idp.Client

	// Stores
	tokenStore     *scylla.TokenStore
	rateLimitStore *redisstore.RateLimitStore
	mfaStateStore  *redisstore.MFAStateStore

	// Services
	recorder   *audit.Recorder
	otpService *otp.Service
	limiter    *ratelimit.Limiter
	gate       *authgate.Gate
	cookies    *authgate.CookieWriter
	dispatcher *reminder.Dispatcher

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg.Server)
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	f.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.ClickHouse.Enabled),
	)

	return f, nil
}

// initializeClients brings up the external dependencies. Redis and Scylla
// are required; the audit sinks (Kafka, ClickHouse) are optional and their
// absence only degrades the audit trail.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	scyllaClient, err := scylla.NewClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.HealthCheck(); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}
	util.Info("ScyllaDB client initialized and healthy")

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if f.config.ClickHouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without ClickHouse", util.ErrorField(err))
		} else {
			f.clickhouseClient = ch
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				util.Warn("ClickHouse health check failed", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

	f.idpClient = idp.NewClient(f.config)
	util.Info("Identity provider client initialized",
		util.String("base_url", f.config.Identity.BaseURL))

	return nil
}

// initializeServices wires stores and domain services. Everything is
// constructor-injected; no package-level singletons beyond the logger.
func (f *Factory) initializeServices() {
	f.tokenStore = scylla.NewTokenStore(f.scyllaClient)
	f.rateLimitStore = redisstore.NewRateLimitStore(f.redisClient)
	f.mfaStateStore = redisstore.NewMFAStateStore(f.redisClient)

	f.recorder = audit.NewRecorder(f.kafkaProducer, f.clickhouseClient, 64)

	sender := mailer.NewLogSender()
	directory := otp.NewProviderDirectory(f.idpClient)
	f.otpService = otp.NewService(f.tokenStore, sender, directory, f.recorder, f.config.OTP)

	f.limiter = ratelimit.NewLimiter(f.rateLimitStore, f.recorder)

	mfaGate := authgate.NewMFAGate(f.mfaStateStore, f.idpClient, f.recorder, f.config.Identity.RefreshTTL)
	f.gate = authgate.NewGate(f.idpClient, mfaGate, f.recorder)
	f.cookies = authgate.NewCookieWriter(f.config)

	f.dispatcher = reminder.NewDispatcher(reminder.NopSource{}, reminder.LogNotifier{}, 8)
}

func (f *Factory) AuthHandler() *handler.AuthHandler {
	return handler.NewAuthHandler(
		f.otpService,
		f.limiter,
		idp.NewPasswordService(f.idpClient),
		f.config.RateLimit,
		util.Get(),
	)
}

func (f *Factory) AdminHandler() *handler.AdminHandler {
	return handler.NewAdminHandler(f.gate, f.cookies, util.Get())
}

func (f *Factory) CronHandler() *handler.CronHandler {
	return handler.NewCronHandler(f.config.Cron.Secret, f.tokenStore, f.dispatcher, util.Get())
}

// HealthCheck probes every initialized dependency.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}
