// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"ipzone.io/internal/cache"
	"ipzone.io/internal/config"
	"ipzone.io/internal/directory"
	"ipzone.io/internal/ipam"
	"ipzone.io/internal/locking"
	"ipzone.io/internal/logging"
	"ipzone.io/internal/models"
	"ipzone.io/internal/pdnsbackend"
	"ipzone.io/internal/pgsqlpool"
	"ipzone.io/internal/redis"
	"ipzone.io/internal/registry"
	"ipzone.io/internal/storage"
	"ipzone.io/internal/syncer"
	"ipzone.io/internal/watch"
	"ipzone.io/internal/zonemodel"
)

// Engine wires the allocation engine together: store, locks, caches,
// registry, allocator, zone builder, sync coordinator and identity
// provider, all constructed from one Config. The daemon and the tests
// drive the same surface.
type Engine struct {
	cfg *config.Config

	pool   *pgsqlpool.Pool
	store  storage.Store
	locker locking.Locker
	events *watch.Queue

	Registry  *registry.Registry
	Allocator *ipam.Allocator
	Zones     *zonemodel.Builder
	Syncer    *syncer.Syncer
	Scheduler *syncer.Scheduler
	Directory directory.Provider

	snapshotCache *storage.SnapshotCache
	memoryCache   cache.Cache
	redisClient   string
}

// New constructs an engine against PostgreSQL
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool := pgsqlpool.NewPool()

	store, err := storage.NewPostgresStore(ctx, pool, cfg.Database.ConnectionName, &storage.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect primary store: %w", err)
	}

	locker := locking.NewPostgresLocker(pool, cfg.Database.ConnectionName, cfg.LockTimeout)

	backends, err := buildBackends(ctx, pool, cfg)
	if err != nil {
		store.Close()
		pool.Close()
		return nil, err
	}

	eng, err := assemble(cfg, pool, store, locker, backends)
	if err != nil {
		store.Close()
		pool.Close()
		return nil, err
	}
	return eng, nil
}

// NewWithStore constructs an engine over an existing store and
// locker. Test targets use this with the in-memory implementations
// and an in-memory output so verification never needs live services.
func NewWithStore(cfg *config.Config, store storage.Store, locker locking.Locker, backends []pdnsbackend.Backend) (*Engine, error) {
	return assemble(cfg, nil, store, locker, backends)
}

// buildBackends opens a pool connection per enabled output. DryRun
// keeps only the configured test output.
func buildBackends(ctx context.Context, pool *pgsqlpool.Pool, cfg *config.Config) ([]pdnsbackend.Backend, error) {
	var backends []pdnsbackend.Backend
	for i := range cfg.Outputs {
		out := &cfg.Outputs[i]
		if !out.Enabled {
			continue
		}
		if cfg.Sync.DryRun && out.Name != cfg.Sync.TestOutput {
			continue
		}
		if !cfg.Sync.DryRun && out.TestOnly {
			continue
		}

		connectionName := out.Database.ConnectionName
		if connectionName == "" {
			connectionName = "output_" + out.Name
		}

		err := pool.AddConnection(ctx, connectionName, &pgsqlpool.ConnectionConfig{
			Host:            out.Database.Host,
			Port:            out.Database.Port,
			User:            out.Database.User,
			Password:        out.Database.Password,
			DBName:          out.Database.DBName,
			SSLMode:         out.Database.SSLMode,
			MaxOpenConns:    out.Database.MaxOpenConns,
			MaxIdleConns:    out.Database.MaxIdleConns,
			ConnMaxLifetime: out.Database.ConnMaxLifetime,
			ConnMaxIdleTime: out.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect output %s: %w", out.Name, err)
		}

		backends = append(backends, pdnsbackend.NewPdnsBackend(pool, &pdnsbackend.Config{
			Name:           out.Name,
			ConnectionName: connectionName,
		}))
	}
	return backends, nil
}

// zoneProfiles converts the configured zone templates into the
// builder's form
func zoneProfiles(cfg *config.Config) map[string]zonemodel.Profile {
	if len(cfg.ZoneProfiles) == 0 {
		return nil
	}

	profiles := make(map[string]zonemodel.Profile, len(cfg.ZoneProfiles))
	for name, p := range cfg.ZoneProfiles {
		records := make([]zonemodel.ProfileRecord, 0, len(p.Records))
		for _, rec := range p.Records {
			records = append(records, zonemodel.ProfileRecord{
				Name:    rec.Name,
				Type:    models.RecordType(strings.ToUpper(rec.Type)),
				TTL:     rec.TTL,
				Content: rec.Content,
			})
		}
		profiles[name] = zonemodel.Profile{SOA: p.SOA, Records: records}
	}
	return profiles
}

// assemble wires components over an already-constructed store
func assemble(cfg *config.Config, pool *pgsqlpool.Pool, store storage.Store, locker locking.Locker, backends []pdnsbackend.Backend) (*Engine, error) {
	whitelist, err := cfg.Whitelist()
	if err != nil {
		return nil, err
	}

	events := watch.NewQueue(256)

	redisClient := ""
	if cfg.Cache.RedisEnabled {
		redisClient = cfg.Cache.RedisClient
		redis.NewClient(redisClient, cfg.Cache.RedisAddr, true)
	}

	memoryCache := cache.NewMemoryCache(&cache.Config{
		MaxEntries:      cfg.Cache.MaxEntries,
		CleanupInterval: cfg.Cache.CleanupInterval,
	})

	snapshotCache := storage.NewSnapshotCache(store, memoryCache, &storage.SnapshotCacheConfig{
		RedisEnabled: cfg.Cache.RedisEnabled,
		RedisClient:  redisClient,
		KeyPrefix:    cfg.Cache.KeyPrefix,
	})

	reg := registry.NewRegistry(store, &registry.Config{ReuseWhitelist: whitelist})
	allocator := ipam.NewAllocator(store, reg, locker, events)
	zones := zonemodel.NewBuilder(store, locker, events, snapshotCache, cfg.SOA, zoneProfiles(cfg))

	sync := syncer.NewSyncer(store, locker, backends, &syncer.Config{
		MaxRetries: cfg.Sync.MaxRetries,
		RetryBase:  cfg.Sync.RetryBase,
		RetryMax:   cfg.Sync.RetryMax,
	})

	scheduler := syncer.NewScheduler(sync, zones, store, &syncer.SchedulerConfig{
		Mode:     syncer.ScheduleMode(cfg.Sync.Schedule),
		Interval: cfg.Sync.Interval,
	})

	provider, err := directory.NewProvider(&cfg.Auth)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:           cfg,
		pool:          pool,
		store:         store,
		locker:        locker,
		events:        events,
		Registry:      reg,
		Allocator:     allocator,
		Zones:         zones,
		Syncer:        sync,
		Scheduler:     scheduler,
		Directory:     provider,
		snapshotCache: snapshotCache,
		memoryCache:   memoryCache,
		redisClient:   redisClient,
	}, nil
}

// Store exposes the underlying store for history queries and health
func (e *Engine) Store() storage.Store {
	return e.store
}

// Events exposes the change event queue for subscribers
func (e *Engine) Events() *watch.Queue {
	return e.events
}

// Snapshots exposes the zone snapshot cache
func (e *Engine) Snapshots() *storage.SnapshotCache {
	return e.snapshotCache
}

// CreateSubnetWithReverse creates a subnet and, when asked, declares
// the reverse zone covering it so PTR records derive immediately
func (e *Engine) CreateSubnetWithReverse(ctx context.Context, domainName, cidr string, opts ipam.SubnetOptions, reverseZone bool) (*models.Subnet, error) {
	subnet, err := e.Allocator.CreateSubnet(ctx, domainName, cidr, opts)
	if err != nil {
		return nil, err
	}

	if reverseZone {
		prefix, err := subnet.Prefix()
		if err != nil {
			return subnet, err
		}
		if err := e.ensureReverseZone(ctx, prefix, opts.Author); err != nil {
			return subnet, err
		}
	}

	return subnet, nil
}

func (e *Engine) ensureReverseZone(ctx context.Context, prefix netip.Prefix, author string) error {
	name, err := models.ReverseZoneName(prefix)
	if err != nil {
		return err
	}

	if existing, err := e.store.GetZone(ctx, name); err != nil {
		return err
	} else if existing != nil {
		return nil
	}

	_, err = e.Zones.CreateZone(ctx, name, zonemodel.ZoneOptions{Author: author})
	return err
}

// Run starts the background loops: the zone builder's event-driven
// rebuilds and the sync scheduler. Blocks until the context ends.
func (e *Engine) Run(ctx context.Context) {
	go e.Zones.Run(ctx)
	e.Scheduler.Run(ctx)
}

// Health checks the store and every sync output
func (e *Engine) Health(ctx context.Context) error {
	if err := e.store.Health(ctx); err != nil {
		return fmt.Errorf("store unhealthy: %w", err)
	}
	return nil
}

// Close releases every resource the engine owns
func (e *Engine) Close() error {
	e.events.Close()

	if e.memoryCache != nil {
		e.memoryCache.Close()
	}
	if e.redisClient != "" {
		redis.Close(e.redisClient)
	}
	if e.Directory != nil {
		e.Directory.Close()
	}

	var firstErr error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			firstErr = err
		}
	}
	if e.pool != nil {
		if err := e.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	logging.Info("engine", "Engine shut down")
	return firstErr
}
