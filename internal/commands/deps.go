package commands

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roost-sh/roost/internal/capacity"
	"github.com/roost-sh/roost/internal/config"
	"github.com/roost-sh/roost/internal/events"
	"github.com/roost-sh/roost/internal/instance"
	"github.com/roost-sh/roost/internal/runtime"
)

// buildManager wires the Docker client and instance manager from
// configuration. Every command that touches containers goes through
// this.
func buildManager(cfg *config.Config) (*instance.Manager, error) {
	docker, err := runtime.New(cfg.Docker.Socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}

	return instance.NewManager(docker, instance.Config{
		Image:               cfg.Instance.Image,
		BaseDomain:          cfg.Instance.BaseDomain,
		SSLEnabled:          cfg.Instance.SSLEnabled,
		CertResolver:        cfg.Instance.CertResolver,
		Network:             cfg.Docker.Network,
		Port:                cfg.Instance.Port,
		DataDir:             cfg.Instance.DataDir,
		Timezone:            cfg.Instance.Timezone,
		MemoryLimitMB:       int64(cfg.Instance.MemoryLimitMB),
		MemoryReservationMB: int64(cfg.Instance.MemoryReservationMB),
		CPUShares:           int64(cfg.Instance.CPUShares),
		PerInstanceMB:       int64(cfg.Capacity.PerInstanceMB),
	}, capacity.Reservation{
		ProxyMB:      int64(cfg.Capacity.ProxyMB),
		EventStoreMB: int64(cfg.Capacity.EventStoreMB),
		BrokerMB:     int64(cfg.Capacity.BrokerMB),
		SystemMB:     int64(cfg.Capacity.SystemMB),
	}), nil
}

// buildStore wires the Redis-backed event store. The caller owns the
// returned client and must close it.
func buildStore(cfg *config.Config) (*events.RedisStore, *redis.Client) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return events.NewRedisStore(rdb, cfg.Redis.JobTTL, cfg.Redis.TerminalTTL), rdb
}
