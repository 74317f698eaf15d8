package serialport

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeLister implements Lister with a swappable port list.
type fakeLister struct {
	mu    sync.Mutex
	ports []PortInfo
	err   error
}

func (f *fakeLister) List() ([]PortInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]PortInfo, len(f.ports))
	copy(out, f.ports)
	return out, nil
}

func (f *fakeLister) set(ports []PortInfo) {
	f.mu.Lock()
	f.ports = ports
	f.mu.Unlock()
}

var (
	usbPort = PortInfo{Path: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60", SerialNumber: "0001"}
	ttyPort = PortInfo{Path: "/dev/ttyS0"}
)

func TestPortInfo_StableID(t *testing.T) {
	if got := usbPort.StableID(); got != "10C4:EA60:0001" {
		t.Errorf("StableID() = %q, want 10C4:EA60:0001", got)
	}
	if got := ttyPort.StableID(); got != "/dev/ttyS0" {
		t.Errorf("StableID() = %q, want /dev/ttyS0", got)
	}
}

func TestWatcher_ListAfterStart(t *testing.T) {
	lister := &fakeLister{ports: []PortInfo{usbPort, ttyPort}}
	w := NewWatcher(lister, WatcherOptions{Interval: time.Hour})
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := len(w.List()); got != 2 {
		t.Errorf("List() returned %d ports, want 2", got)
	}
}

func TestWatcher_DisconnectNotifiesMatchingSubscriber(t *testing.T) {
	lister := &fakeLister{ports: []PortInfo{usbPort, ttyPort}}
	w := NewWatcher(lister, WatcherOptions{Interval: time.Hour})
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	wantID := usbPort.StableID()
	gone := make(chan PortInfo, 1)
	cancel := w.Subscribe(
		func(p PortInfo) bool { return p.StableID() == wantID },
		func(p PortInfo) { gone <- p },
	)
	defer cancel()

	other := make(chan PortInfo, 1)
	cancelOther := w.Subscribe(
		func(p PortInfo) bool { return p.StableID() == "ffff:ffff:none" },
		func(p PortInfo) { other <- p },
	)
	defer cancelOther()

	// Unplug the USB port and poll.
	lister.set([]PortInfo{ttyPort})
	w.poll()

	select {
	case p := <-gone:
		if p.Path != usbPort.Path {
			t.Errorf("disconnected port = %q, want %q", p.Path, usbPort.Path)
		}
	default:
		t.Fatal("matching subscriber not notified")
	}

	select {
	case <-other:
		t.Error("non-matching subscriber should not be notified")
	default:
	}
}

func TestWatcher_CancelStopsNotifications(t *testing.T) {
	lister := &fakeLister{ports: []PortInfo{usbPort}}
	w := NewWatcher(lister, WatcherOptions{Interval: time.Hour})
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	gone := make(chan PortInfo, 1)
	cancel := w.Subscribe(
		func(PortInfo) bool { return true },
		func(p PortInfo) { gone <- p },
	)

	cancel()
	cancel() // safe to call twice

	lister.set(nil)
	w.poll()

	select {
	case <-gone:
		t.Error("cancelled subscriber notified")
	default:
	}
}

func TestWatcher_EnumerationFailureKeepsSnapshot(t *testing.T) {
	lister := &fakeLister{ports: []PortInfo{usbPort}}
	w := NewWatcher(lister, WatcherOptions{Interval: time.Hour})
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	gone := make(chan PortInfo, 1)
	cancel := w.Subscribe(
		func(PortInfo) bool { return true },
		func(p PortInfo) { gone <- p },
	)
	defer cancel()

	// A failed enumeration must not look like a mass disconnect.
	lister.mu.Lock()
	lister.err = errors.New("udev unavailable")
	lister.mu.Unlock()
	w.poll()

	select {
	case <-gone:
		t.Error("enumeration failure treated as disconnect")
	default:
	}
	if got := len(w.List()); got != 1 {
		t.Errorf("List() returned %d ports after failed poll, want 1", got)
	}
}

func TestWatcher_RepluggedPathSameIdentity(t *testing.T) {
	lister := &fakeLister{ports: []PortInfo{usbPort}}
	w := NewWatcher(lister, WatcherOptions{Interval: time.Hour})
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	gone := make(chan PortInfo, 1)
	cancel := w.Subscribe(
		func(PortInfo) bool { return true },
		func(p PortInfo) { gone <- p },
	)
	defer cancel()

	// Same hardware re-enumerated under a new path keeps its StableID,
	// so this is not a disconnect of the device.
	moved := usbPort
	moved.Path = "/dev/ttyUSB1"
	lister.set([]PortInfo{moved})
	w.poll()

	select {
	case <-gone:
		t.Error("path change with same identity treated as disconnect")
	default:
	}
}
