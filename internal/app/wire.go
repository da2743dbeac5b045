// Package app assembles the booking service from configuration.  Both the
// API server and the worker build their service through Open.
package app

import (
	"context"
	"database/sql"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/iliyamo/table-reservation/internal/booking"
	"github.com/iliyamo/table-reservation/internal/calendar"
	"github.com/iliyamo/table-reservation/internal/config"
	"github.com/iliyamo/table-reservation/internal/database"
	"github.com/iliyamo/table-reservation/internal/handler"
	"github.com/iliyamo/table-reservation/internal/ledger"
	"github.com/iliyamo/table-reservation/internal/repository"
)

// Backends holds the connections opened for the selected drivers.  Nil
// fields were not needed.
type Backends struct {
	DB    *sql.DB
	Mongo *mongo.Client
	Redis *redis.Client

	mdb *mongo.Database
}

// Close releases every open connection.
func (b *Backends) Close() {
	if b.DB != nil {
		_ = b.DB.Close()
	}
	if b.Mongo != nil {
		_ = b.Mongo.Disconnect(context.Background())
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
}

// Checks returns one health check per open backend.
func (b *Backends) Checks() map[string]handler.Check {
	checks := map[string]handler.Check{}
	if b.DB != nil {
		checks["mysql"] = b.DB.PingContext
	}
	if b.Mongo != nil {
		checks["mongo"] = func(ctx context.Context) error { return b.Mongo.Ping(ctx, nil) }
	}
	if b.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return b.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Components is what Open builds.
type Components struct {
	Calendar *calendar.Calendar
	Store    booking.Store
	Ledger   ledger.Ledger
	Backends *Backends
}

// Open loads the booking rules, connects the backends and builds the store
// and ledger named by cfg.  The caller closes Backends.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Components, error) {
	calCfg, err := config.LoadBooking(cfg.BookingFile)
	if err != nil {
		return nil, err
	}
	cal, err := calendar.New(calCfg)
	if err != nil {
		return nil, err
	}
	if cfg.LedgerDriver == config.DriverMemory && cfg.StoreDriver != config.DriverMemory {
		return nil, errors.New("memory ledger requires the memory store; a restart would lose committed capacity")
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	store, err := newStore(ctx, cfg, b)
	if err != nil {
		b.Close()
		return nil, err
	}
	return &Components{
		Calendar: cal,
		Store:    store,
		Ledger:   newLedger(cfg, cal, b),
		Backends: b,
	}, nil
}

// openBackends connects to what the selected drivers need.  Redis is
// mandatory for the redis ledger and best effort otherwise, since the cache
// and the rate limiter can run without it.
func openBackends(ctx context.Context, cfg config.Config, log *zap.Logger) (*Backends, error) {
	b := &Backends{}
	if cfg.StoreDriver == config.DriverMySQL || cfg.LedgerDriver == config.DriverMySQL {
		db, err := database.OpenMySQL(cfg)
		if err != nil {
			return nil, err
		}
		b.DB = db
	}
	if cfg.StoreDriver == config.DriverMongo || cfg.LedgerDriver == config.DriverMongo {
		client, mdb, err := database.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Mongo, b.mdb = client, mdb
	}

	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	switch {
	case err == nil:
		b.Redis = rdb
	case cfg.LedgerDriver == config.DriverRedis:
		b.Close()
		return nil, err
	default:
		log.Warn("redis unavailable; cache disabled and rate limiting is per process", zap.Error(err))
	}
	return b, nil
}

func newStore(ctx context.Context, cfg config.Config, b *Backends) (booking.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		return repository.NewReservationRepo(b.DB), nil
	case config.DriverMongo:
		repo := repository.NewMongoReservationRepo(b.mdb.Collection(database.ReservationsCollection))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return repository.NewMemoryReservationRepo(), nil
	}
}

func newLedger(cfg config.Config, cal *calendar.Calendar, b *Backends) ledger.Ledger {
	switch cfg.LedgerDriver {
	case config.DriverRedis:
		return ledger.NewRedis(b.Redis, cal.CapacityFor, "", cfg.LedgerTimeout)
	case config.DriverMySQL:
		return ledger.NewMySQL(b.DB, cal.CapacityFor, cfg.LedgerTimeout)
	case config.DriverMongo:
		return ledger.NewMongo(b.mdb.Collection(database.SlotCapacityCollection), cal.CapacityFor, cfg.MongoMaxAttempts, cfg.LedgerTimeout)
	default:
		return ledger.NewMemory(cal.CapacityFor, cfg.LedgerTimeout)
	}
}
