package session

import (
	"errors"
	"testing"
	"time"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

func TestDeviceFlowLifecycle(t *testing.T) {
	var slot Slot

	if _, err := slot.Device(); !errors.Is(err, auth.ErrSessionState) {
		t.Fatalf("empty slot must report no session, got %v", err)
	}

	slot.BeginDevice(DeviceFlow{
		DeviceCode: "dev-1",
		UserCode:   "ABCD-1234",
		Interval:   5,
		ExpiresAt:  time.Now().Add(time.Minute),
	})

	flow, err := slot.Device()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.DeviceCode != "dev-1" || flow.Interval != 5 {
		t.Fatalf("wrong flow returned: %+v", flow)
	}

	slot.SlowDown()
	flow, err = slot.Device()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Interval != 10 {
		t.Fatalf("slow_down must add 5 seconds, interval = %d", flow.Interval)
	}
}

func TestDeviceFlowExpiry(t *testing.T) {
	var slot Slot
	slot.BeginDevice(DeviceFlow{
		DeviceCode: "dev-1",
		ExpiresAt:  time.Now().Add(-time.Second),
	})

	if _, err := slot.Device(); !errors.Is(err, auth.ErrSessionState) {
		t.Fatalf("expired flow must report no session, got %v", err)
	}
	// The expired flow is cleared, not returned on a second try either.
	if _, err := slot.Device(); !errors.Is(err, auth.ErrSessionState) {
		t.Fatalf("expired flow must stay cleared, got %v", err)
	}
}

func TestBeginReplacesEitherKind(t *testing.T) {
	var slot Slot
	slot.BeginDevice(DeviceFlow{DeviceCode: "dev-1", ExpiresAt: time.Now().Add(time.Minute)})
	slot.BeginSocial(SocialFlow{State: "s-1", Provider: store.ProviderGoogle})

	if _, err := slot.Device(); !errors.Is(err, auth.ErrSessionState) {
		t.Fatal("starting a social login must drop the device flow")
	}
	if _, err := slot.TakeSocial("s-1"); err != nil {
		t.Fatalf("social flow must be active: %v", err)
	}

	slot.BeginSocial(SocialFlow{State: "s-2", Provider: store.ProviderGithub})
	slot.BeginDevice(DeviceFlow{DeviceCode: "dev-2", ExpiresAt: time.Now().Add(time.Minute)})

	if _, err := slot.TakeSocial("s-2"); !errors.Is(err, auth.ErrSessionState) {
		t.Fatal("starting a device login must drop the social flow")
	}
}

func TestTakeSocialConsumesOnSuccess(t *testing.T) {
	var slot Slot
	slot.BeginSocial(SocialFlow{State: "s-1", Verifier: "v-1"})

	flow, err := slot.TakeSocial("s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Verifier != "v-1" {
		t.Fatalf("wrong flow: %+v", flow)
	}

	// A second redemption of the same state must fail.
	if _, err := slot.TakeSocial("s-1"); !errors.Is(err, auth.ErrSessionState) {
		t.Fatalf("replay must be rejected, got %v", err)
	}
}

func TestTakeSocialConsumesOnStateMismatch(t *testing.T) {
	var slot Slot
	slot.BeginSocial(SocialFlow{State: "s-1"})

	if _, err := slot.TakeSocial("wrong"); !errors.Is(err, auth.ErrSessionState) {
		t.Fatalf("state mismatch must be rejected, got %v", err)
	}
	// The session is burned even after a mismatch; the right state no
	// longer redeems.
	if _, err := slot.TakeSocial("s-1"); !errors.Is(err, auth.ErrSessionState) {
		t.Fatalf("session must be consumed by the failed attempt, got %v", err)
	}
}

func TestTakeSocialExpired(t *testing.T) {
	var slot Slot
	slot.BeginSocial(SocialFlow{State: "s-1", ExpiresAt: time.Now().Add(-time.Second)})

	if _, err := slot.TakeSocial("s-1"); !errors.Is(err, auth.ErrSessionState) {
		t.Fatalf("expired session must be rejected, got %v", err)
	}
}

func TestBeginSocialDefaultsExpiry(t *testing.T) {
	var slot Slot
	slot.BeginSocial(SocialFlow{State: "s-1"})

	flow, err := slot.TakeSocial("s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.ExpiresAt.Before(time.Now().Add(time.Minute)) {
		t.Fatalf("default TTL not applied: %v", flow.ExpiresAt)
	}
}

func TestClear(t *testing.T) {
	var slot Slot
	slot.BeginDevice(DeviceFlow{DeviceCode: "dev-1", ExpiresAt: time.Now().Add(time.Minute)})
	slot.Clear()
	if _, err := slot.Device(); !errors.Is(err, auth.ErrSessionState) {
		t.Fatal("cleared slot must report no session")
	}
}
