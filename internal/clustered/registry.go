/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package clustered implements an optional session-ownership lease so
// that multiple engine-host processes sharing one Redis instance never
// both drive the audio clock for the same session id, using a
// SET-NX-PX-plus-Lua-compare-and-delete leader-election pattern
// narrowed from one cluster-wide leader to one lease per session id.
package clustered

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/circa83/enso-audio/internal/telemetry"
)

const (
	keyPrefix          = "enso:session-lease:"
	defaultLease       = 15 * time.Second
	defaultRenewal     = 5 * time.Second
	defaultRetry       = 2 * time.Second
)

// Lease represents ownership of one session id.
type Lease struct {
	SessionID  string
	InstanceID string
}

// RegistryConfig configures Registry.
type RegistryConfig struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LeaseDuration   time.Duration
	RenewalInterval time.Duration
	RetryInterval   time.Duration
	InstanceID      string
}

// DefaultRegistryConfig returns sane defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		RedisAddr: "localhost:6379", LeaseDuration: defaultLease,
		RenewalInterval: defaultRenewal, RetryInterval: defaultRetry,
		InstanceID: uuid.New().String(),
	}
}

// Registry manages per-session leases over Redis.
type Registry struct {
	client     *redis.Client
	logger     zerolog.Logger
	cfg        RegistryConfig
	instanceID string

	leaderCh chan bool
}

// NewRegistry pings Redis to fail fast if it's unreachable.
func NewRegistry(cfg RegistryConfig, logger zerolog.Logger) (*Registry, error) {
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = defaultLease
	}
	if cfg.RenewalInterval == 0 {
		cfg.RenewalInterval = defaultRenewal
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaultRetry
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Registry{
		client: client, logger: logger.With().Str("component", "session_lease").Logger(),
		cfg: cfg, instanceID: cfg.InstanceID, leaderCh: make(chan bool, 1),
	}, nil
}

func (r *Registry) key(sessionID string) string { return keyPrefix + sessionID }

// AcquireSession attempts to acquire or renew the lease for sessionID,
// returning (lease, true, nil) on success.
func (r *Registry) AcquireSession(ctx context.Context, sessionID string) (Lease, bool, error) {
	key := r.key(sessionID)
	ok, err := r.client.SetNX(ctx, key, r.instanceID, r.cfg.LeaseDuration).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("set lock: %w", err)
	}
	if ok {
		telemetry.LeaderElectionStatus.WithLabelValues(r.instanceID).Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues(r.instanceID, "acquired").Inc()
		return Lease{SessionID: sessionID, InstanceID: r.instanceID}, true, nil
	}

	current, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, fmt.Errorf("get current owner: %w", err)
	}
	if current != r.instanceID {
		return Lease{}, false, nil
	}
	if err := r.client.Expire(ctx, key, r.cfg.LeaseDuration).Err(); err != nil {
		return Lease{}, false, fmt.Errorf("renew lock: %w", err)
	}
	return Lease{SessionID: sessionID, InstanceID: r.instanceID}, true, nil
}

// ReleaseSession releases the lease, only if still owned by this instance.
func (r *Registry) ReleaseSession(ctx context.Context, sessionID string) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	if err := r.client.Eval(ctx, script, []string{r.key(sessionID)}, r.instanceID).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	telemetry.LeaderElectionStatus.WithLabelValues(r.instanceID).Set(0)
	telemetry.LeaderElectionChanges.WithLabelValues(r.instanceID, "released").Inc()
	return nil
}

// RunRenewal periodically renews sessionID's lease until ctx is
// cancelled, delivering ownership-lost notifications on lost.
func (r *Registry) RunRenewal(ctx context.Context, sessionID string, lost chan<- struct{}) {
	ticker := time.NewTicker(r.cfg.RenewalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = r.ReleaseSession(context.Background(), sessionID)
			return
		case <-ticker.C:
			_, ok, err := r.AcquireSession(ctx, sessionID)
			if err != nil || !ok {
				r.logger.Warn().Str("session_id", sessionID).Msg("lost session lease")
				select {
				case lost <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

// Watch acquires sessionID's lease, failing if another instance
// already holds it, then renews it in the background until ctx is
// done. engine.Engine is expected to call this (or wait on LeaderCh)
// before starting its tickers, so that at most one process ever drives
// the audio clock for a given session id.
func (r *Registry) Watch(ctx context.Context, sessionID string) error {
	_, ok, err := r.AcquireSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("acquire session lease: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %q is already leased by another instance", sessionID)
	}

	select {
	case r.leaderCh <- true:
	default:
	}

	lost := make(chan struct{}, 1)
	go func() {
		r.RunRenewal(ctx, sessionID, lost)
		select {
		case <-lost:
			select {
			case r.leaderCh <- false:
			default:
			}
		default:
		}
	}()
	return nil
}

// LeaderCh reports leadership transitions for the session Watch was
// called with: true once the lease is acquired, false if it is ever
// lost to another instance. Consumers should stop driving playback on
// a false.
func (r *Registry) LeaderCh() <-chan bool { return r.leaderCh }

// Close closes the Redis connection.
func (r *Registry) Close() error { return r.client.Close() }
