package session

import (
	"testing"
	"time"

	"ambientplayer/internal/config"
)

func newRunningCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := New(nil)
	go c.Run()
	t.Cleanup(c.Stop)
	return c
}

func TestManagedConfigureActivatesOnce(t *testing.T) {
	c := newRunningCoordinator(t)
	if err := c.Configure(config.SessionManaged, CategoryPlayback, Options{AllowBluetooth: true}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if !c.configured {
		t.Fatal("expected session to be configured")
	}
}

func TestManagedReconfigureWithDifferentOptionsWarns(t *testing.T) {
	c := newRunningCoordinator(t)
	c.Configure(config.SessionManaged, CategoryPlayback, Options{AllowBluetooth: true})
	c.Configure(config.SessionManaged, CategoryPlayback, Options{AllowBluetooth: false})

	select {
	case w := <-c.Warnings():
		if w == "" {
			t.Error("expected a non-empty warning")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a reconfiguration warning")
	}
}

func TestExternalModeRejectsIncompatibleCategory(t *testing.T) {
	c := newRunningCoordinator(t)
	err := c.Configure(config.SessionExternal, Category(99), Options{})
	if err == nil {
		t.Fatal("expected SessionConfigurationFailed for an invalid category")
	}
}

func TestInterruptionBeganSignalsPause(t *testing.T) {
	c := newRunningCoordinator(t)
	sig := c.Subscribe()
	c.NotifyInterruptionBegan()

	select {
	case s := <-sig:
		if s != SignalPause {
			t.Errorf("expected SignalPause, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pause signal")
	}
}

func TestInterruptionEndedWithoutResumeHintDoesNotResume(t *testing.T) {
	c := newRunningCoordinator(t)
	sig := c.Subscribe()
	c.NotifyInterruptionEnded(false, false)

	select {
	case s := <-sig:
		t.Fatalf("expected no signal without a resume hint, got %v", s)
	case <-time.After(100 * time.Millisecond):
		// expected: no auto-resume
	}
}

func TestInterruptionEndedWithResumeHintResumes(t *testing.T) {
	c := newRunningCoordinator(t)
	sig := c.Subscribe()
	c.NotifyInterruptionEnded(true, true)

	select {
	case s := <-sig:
		if s != SignalResume {
			t.Errorf("expected SignalResume, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resume signal")
	}
}

func TestRouteChangeOldDeviceUnavailableIsImmediate(t *testing.T) {
	c := newRunningCoordinator(t)
	sig := c.Subscribe()
	c.NotifyRouteChange(RouteReasonOldDeviceUnavailable, CategoryPlayback)

	select {
	case s := <-sig:
		if s != SignalPause {
			t.Errorf("expected SignalPause, got %v", s)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected immediate pause signal, got none")
	}
}

func TestRouteChangeNewDeviceIsDebounced(t *testing.T) {
	c := newRunningCoordinator(t)
	c.NotifyRouteChange(RouteReasonNewDeviceAvailable, CategoryPlayback)

	select {
	case w := <-c.Warnings():
		t.Fatalf("expected debounce delay before any warning, got %q immediately", w)
	case <-time.After(100 * time.Millisecond):
		// expected: still debouncing
	}

	select {
	case <-c.Warnings():
		// settled after debounce
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected debounced route change to settle within 500ms")
	}
}

func TestMediaServicesResetSignalsRecover(t *testing.T) {
	c := newRunningCoordinator(t)
	sig := c.Subscribe()
	c.NotifyMediaServicesReset()

	select {
	case s := <-sig:
		if s != SignalRecover {
			t.Errorf("expected SignalRecover, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for recover signal")
	}
}
