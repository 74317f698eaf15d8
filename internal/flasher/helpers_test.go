package flasher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/sensorflash-core/internal/firmware"
	"github.com/nerrad567/sensorflash-core/internal/serialport"
)

// fakePort implements SerialPort for tests.
type fakePort struct {
	mu      sync.Mutex
	path    string
	baud    int
	signals [][2]bool // recorded (dtr, rts) pairs
	data    []byte
	readErr error
	closed  bool
	holds   int
}

func newFakePort(path string, baud int) *fakePort {
	return &fakePort{path: path, baud: baud}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.data) > 0 {
		n := copy(buf, p.data)
		p.data = p.data[n:]
		return n, nil
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	return 0, nil // read-timeout tick
}

func (p *fakePort) feed(b []byte) {
	p.mu.Lock()
	p.data = append(p.data, b...)
	p.mu.Unlock()
}

func (p *fakePort) SetSignals(dtr, rts bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, [2]bool{dtr, rts})
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) DrainInput() error                  { return nil }

func (p *fakePort) Hold() {
	p.mu.Lock()
	p.holds++
	p.mu.Unlock()
}

func (p *fakePort) Release() {
	p.mu.Lock()
	p.holds--
	p.mu.Unlock()
}

func (p *fakePort) Path() string { return p.path }
func (p *fakePort) Baud() int    { return p.baud }

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeOpener implements PortOpener, recording every open. openDelay
// stretches the open call so tests can race concurrent session starts
// against it.
type fakeOpener struct {
	mu        sync.Mutex
	openErr   error
	openDelay time.Duration
	opened    []*fakePort
}

func (o *fakeOpener) OpenPort(path string, baud int) (SerialPort, error) {
	o.mu.Lock()
	delay := o.openDelay
	err := o.openErr
	o.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	p := newFakePort(path, baud)
	o.mu.Lock()
	o.opened = append(o.opened, p)
	o.mu.Unlock()
	return p, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

// fakeTransport implements ChipTransport with scriptable failures.
type fakeTransport struct {
	mu sync.Mutex

	chipID       string
	connectErrs  []error // indexed by call number; nil entry = success
	connectCalls int
	connectBauds []int

	readRegErrs  []error
	readRegCalls int

	uploadStubErr error
	uploadCalls   int

	appliedBauds []int

	eraseErr   error
	eraseCalls int

	writeErrs     map[int]error // by zero-based file index
	writeCalls    int
	writeBlocks   bool // block until ctx cancel (hot-plug tests)
	progressSteps []float64

	resetErr   error
	resetCalls int

	disconnects int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		chipID:        "ESP8266EX (chip id 0x00D0F1A2)",
		progressSteps: []float64{10, 30, 50, 80, 100},
	}
}

func (t *fakeTransport) Connect(ctx context.Context, baud int) (string, error) {
	t.mu.Lock()
	call := t.connectCalls
	t.connectCalls++
	t.connectBauds = append(t.connectBauds, baud)
	var err error
	if call < len(t.connectErrs) {
		err = t.connectErrs[call]
	}
	id := t.chipID
	t.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *fakeTransport) UploadStub(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploadCalls++
	return t.uploadStubErr
}

func (t *fakeTransport) ApplyBaud(baud int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appliedBauds = append(t.appliedBauds, baud)
	return nil
}

func (t *fakeTransport) ReadReg(ctx context.Context, addr uint32) (uint32, error) {
	t.mu.Lock()
	call := t.readRegCalls
	t.readRegCalls++
	var err error
	if call < len(t.readRegErrs) {
		err = t.readRegErrs[call]
	}
	t.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return 0x00062000, nil
}

func (t *fakeTransport) EraseRegion(ctx context.Context, addr uint32, size int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eraseCalls++
	return t.eraseErr
}

func (t *fakeTransport) WriteFlash(ctx context.Context, file firmware.FlashFile, onProgress func(float64)) error {
	t.mu.Lock()
	index := t.writeCalls
	t.writeCalls++
	err := t.writeErrs[index]
	steps := t.progressSteps
	block := t.writeBlocks
	t.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	for _, pct := range steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onProgress(pct)
	}
	return nil
}

func (t *fakeTransport) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetCalls++
	return t.resetErr
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	return nil
}

// fakeDialer hands out one fakeTransport.
type fakeDialer struct {
	transport *fakeTransport
}

func (d *fakeDialer) Dial(portPath string) ChipTransport { return d.transport }

// fakeWatcher implements PortWatcher with a manual trigger.
type fakeWatcher struct {
	mu   sync.Mutex
	next int
	subs map[int]struct {
		match func(serialport.PortInfo) bool
		cb    func(serialport.PortInfo)
	}
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{subs: make(map[int]struct {
		match func(serialport.PortInfo) bool
		cb    func(serialport.PortInfo)
	})}
}

func (w *fakeWatcher) Subscribe(match func(serialport.PortInfo) bool, cb func(serialport.PortInfo)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	id := w.next
	w.subs[id] = struct {
		match func(serialport.PortInfo) bool
		cb    func(serialport.PortInfo)
	}{match, cb}
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// unplug simulates a hot-plug disconnect of the given port path.
func (w *fakeWatcher) unplug(path string) {
	info := serialport.PortInfo{Path: path}
	w.mu.Lock()
	var cbs []func(serialport.PortInfo)
	for _, s := range w.subs {
		if s.match(info) {
			cbs = append(cbs, s.cb)
		}
	}
	w.mu.Unlock()
	for _, cb := range cbs {
		cb(info)
	}
}

func (w *fakeWatcher) subCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// recordSink captures every event for assertions.
type recordSink struct {
	mu       sync.Mutex
	logs     []LogEvent
	phases   []State
	progress []float64
	lines    []string
}

func (s *recordSink) OnLog(_ string, e LogEvent) {
	s.mu.Lock()
	s.logs = append(s.logs, e)
	s.mu.Unlock()
}

func (s *recordSink) OnPhase(_ string, state State) {
	s.mu.Lock()
	s.phases = append(s.phases, state)
	s.mu.Unlock()
}

func (s *recordSink) OnProgress(_ string, pct float64) {
	s.mu.Lock()
	s.progress = append(s.progress, pct)
	s.mu.Unlock()
}

func (s *recordSink) OnMonitorLine(_ string, line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

// hasLog reports whether a log entry of the severity contains substr.
func (s *recordSink) hasLog(severity Severity, substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.logs {
		if e.Severity == severity && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// fakeRegistrar implements Registrar.
type fakeRegistrar struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (r *fakeRegistrar) Register(ctx context.Context, cfg firmware.DeviceConfig, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

// fakeRecorder implements Recorder.
type fakeRecorder struct {
	mu      sync.Mutex
	records []SessionRecord
}

func (r *fakeRecorder) Record(ctx context.Context, rec SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) last() (SessionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return SessionRecord{}, false
	}
	return r.records[len(r.records)-1], true
}

// testFiles returns a single-file firmware image at address 0x0.
func testFiles() []firmware.FlashFile {
	return []firmware.FlashFile{
		{Data: firmware.PayloadFromBytes(make([]byte, 1024)), Address: 0x0},
	}
}

func testRequest() FlashRequest {
	return FlashRequest{
		Port:            "/dev/ttyUSB0",
		FirmwareVersion: "1.4.2",
		Files:           testFiles(),
		Device: firmware.DeviceConfig{
			DeviceID: "esp-lab-01",
			Platform: "esp8266",
		},
	}
}

var errConnectGeneric = fmt.Errorf("%w: no sync reply", ErrConnectFailed)
