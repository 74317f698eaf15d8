package serialport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial/enumerator"
)

// defaultWatchInterval is how often the watcher re-enumerates ports.
const defaultWatchInterval = 1 * time.Second

// PortInfo describes one attached serial port.
type PortInfo struct {
	// Path is the OS device path (e.g., "/dev/ttyUSB0").
	Path string

	// IsUSB reports whether USB metadata is available.
	IsUSB bool

	// VID and PID identify the USB bridge chip (e.g., "10C4", "EA60").
	VID string
	PID string

	// SerialNumber is the USB serial string, often unique per device.
	SerialNumber string
}

// StableID returns an identity that survives re-plugs and path recycling.
//
// USB ports are keyed VID:PID:serial; ports without USB metadata fall back
// to the device path.
func (p PortInfo) StableID() string {
	if p.IsUSB {
		return fmt.Sprintf("%s:%s:%s", p.VID, p.PID, p.SerialNumber)
	}
	return p.Path
}

// Lister enumerates attached serial ports.
// This allows mocking enumeration in tests.
type Lister interface {
	List() ([]PortInfo, error)
}

// SystemLister enumerates ports via the OS (go.bug.st/serial/enumerator).
type SystemLister struct{}

// List returns all serial ports the OS currently reports.
func (SystemLister) List() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Path:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return ports, nil
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// subscription is one registered disconnect listener.
type subscription struct {
	id     uint64
	match  func(PortInfo) bool
	onGone func(PortInfo)
}

// Watcher polls the port list and notifies subscribers when a matched port
// disappears.
//
// Detection is polling-based because the service targets multiple operating
// systems and the OS-native hot-plug APIs differ on each; one enumeration
// per second is cheap and plenty fast for a human unplugging a cable.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Disconnect callbacks run on the watcher goroutine; subscribers must
//     not block in them.
type Watcher struct {
	lister   Lister
	interval time.Duration
	logger   Logger

	mu      sync.Mutex
	known   map[string]PortInfo // keyed by StableID
	subs    map[uint64]*subscription
	nextSub uint64
	started bool

	stop *closeOnce
	wg   sync.WaitGroup
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Interval between enumerations. Default: 1s.
	Interval time.Duration

	// Logger for enumeration failures and hot-plug events. Optional.
	Logger Logger
}

// NewWatcher creates a hot-plug watcher over the given lister.
// Pass SystemLister{} in production.
func NewWatcher(lister Lister, opts WatcherOptions) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = defaultWatchInterval
	}
	return &Watcher{
		lister:   lister,
		interval: opts.Interval,
		logger:   opts.Logger,
		known:    make(map[string]PortInfo),
		subs:     make(map[uint64]*subscription),
		stop:     newCloseOnce(),
	}
}

// Start begins polling. It performs one synchronous enumeration so List()
// is populated before Start returns, then polls in the background until
// Stop is called.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	w.poll()

	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop halts polling and waits for the watcher goroutine to exit.
// Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stop.Close()
	w.wg.Wait()
}

// List returns the most recently enumerated ports.
func (w *Watcher) List() []PortInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	ports := make([]PortInfo, 0, len(w.known))
	for _, p := range w.known {
		ports = append(ports, p)
	}
	return ports
}

// Subscribe registers a disconnect listener for ports matching the
// predicate. The callback fires once per matched port that disappears
// from enumeration.
//
// The returned cancel function removes the subscription and is safe to
// call multiple times; sessions call it unconditionally during teardown
// so a listener never outlives its session.
func (w *Watcher) Subscribe(match func(PortInfo) bool, onDisconnect func(PortInfo)) (cancel func()) {
	w.mu.Lock()
	w.nextSub++
	id := w.nextSub
	w.subs[id] = &subscription{id: id, match: match, onGone: onDisconnect}
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// run is the watcher goroutine.
func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll enumerates ports, diffs against the previous snapshot, and fires
// disconnect callbacks for ports that vanished.
func (w *Watcher) poll() {
	ports, err := w.lister.List()
	if err != nil {
		// Transient enumeration failures must not be mistaken for every
		// port disconnecting at once; keep the previous snapshot.
		if w.logger != nil {
			w.logger.Warn("port enumeration failed", "error", err)
		}
		return
	}

	current := make(map[string]PortInfo, len(ports))
	for _, p := range ports {
		current[p.StableID()] = p
	}

	w.mu.Lock()
	var gone []PortInfo
	for id, p := range w.known {
		if _, ok := current[id]; !ok {
			gone = append(gone, p)
		}
	}
	w.known = current

	// Snapshot subscribers so callbacks run without the lock held.
	var notify []func()
	for _, p := range gone {
		p := p
		for _, sub := range w.subs {
			if sub.match(p) {
				cb := sub.onGone
				notify = append(notify, func() { cb(p) })
			}
		}
	}
	w.mu.Unlock()

	for _, p := range gone {
		if w.logger != nil {
			w.logger.Info("serial port disconnected", "path", p.Path, "id", p.StableID())
		}
	}
	for _, fn := range notify {
		fn()
	}
}
