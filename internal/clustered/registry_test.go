package clustered

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
)

func newTestRegistry(t *testing.T, cfg RegistryConfig) (*Registry, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = defaultLease
	}
	if cfg.RenewalInterval == 0 {
		cfg.RenewalInterval = defaultRenewal
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "test-instance"
	}
	r := &Registry{
		client: client, logger: zerolog.Nop(), cfg: cfg,
		instanceID: cfg.InstanceID, leaderCh: make(chan bool, 1),
	}
	return r, mock
}

func TestAcquireSessionSucceedsOnFreshKey(t *testing.T) {
	r, mock := newTestRegistry(t, RegistryConfig{LeaseDuration: time.Second})
	mock.ExpectSetNX(r.key("s1"), "test-instance", time.Second).SetVal(true)

	lease, ok, err := r.AcquireSession(context.Background(), "s1")
	if err != nil || !ok {
		t.Fatalf("AcquireSession = %v, %v, %v", lease, ok, err)
	}
	if lease.SessionID != "s1" || lease.InstanceID != "test-instance" {
		t.Fatalf("unexpected lease: %+v", lease)
	}
}

func TestAcquireSessionRenewsOwnLease(t *testing.T) {
	r, mock := newTestRegistry(t, RegistryConfig{LeaseDuration: time.Second})
	mock.ExpectSetNX(r.key("s1"), "test-instance", time.Second).SetVal(false)
	mock.ExpectGet(r.key("s1")).SetVal("test-instance")
	mock.ExpectExpire(r.key("s1"), time.Second).SetVal(true)

	_, ok, err := r.AcquireSession(context.Background(), "s1")
	if err != nil || !ok {
		t.Fatalf("expected the owning instance to renew its own lease, got ok=%v err=%v", ok, err)
	}
}

func TestAcquireSessionFailsWhenOwnedByAnotherInstance(t *testing.T) {
	r, mock := newTestRegistry(t, RegistryConfig{LeaseDuration: time.Second})
	mock.ExpectSetNX(r.key("s1"), "test-instance", time.Second).SetVal(false)
	mock.ExpectGet(r.key("s1")).SetVal("someone-else")

	_, ok, err := r.AcquireSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("AcquireSession: %v", err)
	}
	if ok {
		t.Fatalf("expected AcquireSession to refuse a lease held by another instance")
	}
}

func TestWatchReportsLeadershipOnLeaderCh(t *testing.T) {
	r, mock := newTestRegistry(t, RegistryConfig{LeaseDuration: time.Second, RenewalInterval: time.Hour})
	mock.ExpectSetNX(r.key("s1"), "test-instance", time.Second).SetVal(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Watch(ctx, "s1"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	select {
	case got := <-r.LeaderCh():
		if !got {
			t.Fatalf("expected LeaderCh to report true once the lease is acquired")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for an initial leadership report")
	}
}

func TestWatchFailsWhenAlreadyLeasedElsewhere(t *testing.T) {
	r, mock := newTestRegistry(t, RegistryConfig{LeaseDuration: time.Second})
	mock.ExpectSetNX(r.key("s1"), "test-instance", time.Second).SetVal(false)
	mock.ExpectGet(r.key("s1")).SetVal("someone-else")

	if err := r.Watch(context.Background(), "s1"); err == nil {
		t.Fatalf("expected Watch to fail when another instance already holds the lease")
	}
}

func TestWatchReportsLossOfLeadershipOnLeaderCh(t *testing.T) {
	r, mock := newTestRegistry(t, RegistryConfig{LeaseDuration: time.Second, RenewalInterval: 20 * time.Millisecond})
	mock.ExpectSetNX(r.key("s1"), "test-instance", time.Second).SetVal(true)
	mock.ExpectSetNX(r.key("s1"), "test-instance", time.Second).SetVal(false)
	mock.ExpectGet(r.key("s1")).SetVal("someone-else")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.Watch(ctx, "s1"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if !<-r.LeaderCh() {
		t.Fatalf("expected the initial leadership report to be true")
	}
	select {
	case got := <-r.LeaderCh():
		if got {
			t.Fatalf("expected a false report once the lease is lost to another instance")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a lost-leadership report")
	}
}
