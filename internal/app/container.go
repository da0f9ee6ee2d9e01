package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/acme/call-memento/internal/bridge"
	"github.com/acme/call-memento/internal/compliance"
	"github.com/acme/call-memento/internal/config"
	"github.com/acme/call-memento/internal/infra/db"
	"github.com/acme/call-memento/internal/infra/redis"
	"github.com/acme/call-memento/internal/media"
	"github.com/acme/call-memento/internal/notify"
	"github.com/acme/call-memento/internal/queue"
	"github.com/acme/call-memento/internal/ratelimit"
	"github.com/acme/call-memento/internal/repository"
	pgrepo "github.com/acme/call-memento/internal/repository/postgres"
	scyllarepo "github.com/acme/call-memento/internal/repository/scylla"
	callsvc "github.com/acme/call-memento/internal/service/call"
	"github.com/acme/call-memento/internal/speech"
	"github.com/acme/call-memento/internal/storage"
	"github.com/acme/call-memento/internal/stream"
	"github.com/acme/call-memento/internal/telephony"
	"github.com/acme/call-memento/internal/telephony/twilio"
	callworker "github.com/acme/call-memento/internal/worker/call"
	mediaworker "github.com/acme/call-memento/internal/worker/media"
	"github.com/acme/call-memento/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		queue        *queue.Client
		scheduler    *compliance.Scheduler
		limiters     *limiters
		prime        *speech.PrimeCache
	}

	carrier struct {
		once     sync.Once
		provider *twilio.Provider
		err      error
	}

	objects struct {
		once  sync.Once
		store *storage.Store
		err   error
	}
}

type repositories struct {
	Calls    repository.CallRecords
	Attempts repository.AttemptLog
}

type services struct {
	Call *callsvc.Service
}

type limiters struct {
	Daily *ratelimit.DailyCounter
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Calls:    pgrepo.NewCallRepository(c.Postgres.DB()),
			Attempts: scyllarepo.NewAttemptLog(c.Scylla.Session()),
		}

		queueClient := queue.NewClient(c.Kafka, c.Logger)

		scheduler := compliance.NewScheduler(compliance.Policy{
			WindowStartHour: c.Config.Compliance.WindowStartHour,
			WindowEndHour:   c.Config.Compliance.WindowEndHour,
			SlotHours:       c.Config.Compliance.SlotHours,
			DailyCap:        c.Config.Compliance.DailyCap,
			MaxRetryDays:    c.Config.Compliance.MaxRetryDays,
		}, compliance.DefaultNorthAmericanTable())

		limiters := &limiters{
			Daily: ratelimit.NewDailyCounter(c.Redis.Inner(), 0),
		}

		services := &services{
			Call: callsvc.NewService(
				repos.Calls,
				repos.Attempts,
				scheduler,
				limiters.Daily,
				queueClient,
				c.Config.Kafka.PlaceCallQueue,
				c.Config.Kafka.GenerateMediaQueue,
				c.Logger,
			),
		}

		c.components.repositories = repos
		c.components.queue = queueClient
		c.components.scheduler = scheduler
		c.components.limiters = limiters
		c.components.services = services
		c.components.prime = speech.NewPrimeCache(c.Redis.Inner(), c.Config.Speech.PrimeTTL)
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Queue exposes the job queue client.
func (c *Container) Queue() *queue.Client {
	c.initComponents()
	return c.components.queue
}

// Scheduler exposes the compliance scheduler.
func (c *Container) Scheduler() *compliance.Scheduler {
	c.initComponents()
	return c.components.scheduler
}

// Limiters exposes limiter utilities.
func (c *Container) Limiters() *limiters {
	c.initComponents()
	return c.components.limiters
}

// PrimeCache exposes the speech-prompt prime cache.
func (c *Container) PrimeCache() *speech.PrimeCache {
	c.initComponents()
	return c.components.prime
}

// Carrier builds the telephony provider, validating credentials once.
func (c *Container) Carrier() (*twilio.Provider, error) {
	c.initComponents()
	c.carrier.once.Do(func() {
		c.carrier.provider, c.carrier.err = twilio.NewProvider(c.Config.Carrier, c.components.prime, c.Logger)
	})
	return c.carrier.provider, c.carrier.err
}

// ObjectStore builds the durable media store, validating credentials once.
func (c *Container) ObjectStore() (*storage.Store, error) {
	c.objects.once.Do(func() {
		c.objects.store, c.objects.err = storage.NewStore(c.Config.Storage, c.Logger)
	})
	return c.objects.store, c.objects.err
}

// CallWorker assembles the place-call consumer.
func (c *Container) CallWorker() (*callworker.Worker, error) {
	c.initComponents()

	provider, err := c.Carrier()
	if err != nil {
		return nil, fmt.Errorf("carrier: %w", err)
	}

	processor := callworker.NewProcessor(
		c.components.repositories.Calls,
		c.components.repositories.Attempts,
		c.components.scheduler,
		c.components.limiters.Daily,
		telephony.StaticResolver{},
		provider,
		c.components.queue,
		c.Config.Kafka.PlaceCallQueue,
		c.Logger,
	)

	return callworker.New(c.components.queue, c.Config.Kafka.PlaceCallQueue, c.Config.Kafka.CallGroupID, processor), nil
}

// MediaWorker assembles the generate-media consumer.
func (c *Container) MediaWorker() (*mediaworker.Worker, error) {
	c.initComponents()

	provider, err := c.Carrier()
	if err != nil {
		return nil, fmt.Errorf("carrier: %w", err)
	}

	store, err := c.ObjectStore()
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	processor := mediaworker.NewProcessor(
		c.components.repositories.Calls,
		provider,
		media.NewClient(c.Config.Media, c.Logger),
		store,
		notify.NewNotifier(c.Config.Notify, c.Logger),
		c.Config.Media,
		c.Logger,
	)

	return mediaworker.New(c.components.queue, c.Config.Kafka.GenerateMediaQueue, c.Config.Kafka.MediaGroupID, processor), nil
}

// StreamServer assembles the carrier media-stream listener and its bridge.
func (c *Container) StreamServer() *stream.Server {
	c.initComponents()

	source := bridge.CachedSource{
		Cache: c.components.prime,
		Lookup: func(ctx context.Context, callID string) (string, error) {
			id, err := uuid.Parse(callID)
			if err != nil {
				return "", fmt.Errorf("bad call id %q: %w", callID, err)
			}
			rec, err := c.components.repositories.Calls.Get(ctx, id)
			if err != nil {
				return "", err
			}
			if rec.Instructions == nil {
				return "", fmt.Errorf("record %s has no instructions", callID)
			}
			return *rec.Instructions, nil
		},
	}

	br := bridge.New(c.Config.Speech, c.Config.Stream, source, c.Logger)
	return stream.NewServer(c.Config.Stream, br, c.Logger)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.queue != nil {
		if err := c.components.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureQueues ensures the job queues exist before workers start.
func (c *Container) EnsureQueues(ctx context.Context) error {
	c.initComponents()
	return c.components.queue.EnsureQueues(ctx,
		c.Config.Kafka.PlaceCallQueue,
		c.Config.Kafka.GenerateMediaQueue,
	)
}
