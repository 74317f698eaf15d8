package esptool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/nerrad567/sensorflash-core/internal/firmware"
	"github.com/nerrad567/sensorflash-core/internal/flasher"
)

// defaultBinary is the esptool executable looked up on PATH when no
// explicit path is configured.
const defaultBinary = "esptool.py"

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures the esptool dialer.
type Options struct {
	// Binary is the esptool executable. Default: "esptool.py" on PATH.
	Binary string

	// Logger is optional.
	Logger Logger
}

// Dialer creates transports bound to a port path.
type Dialer struct {
	binary string
	logger Logger
}

// NewDialer creates an esptool transport dialer.
func NewDialer(opts Options) *Dialer {
	if opts.Binary == "" {
		opts.Binary = defaultBinary
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Dialer{binary: opts.Binary, logger: opts.Logger}
}

// Dial returns a transport for the given port path.
func (d *Dialer) Dial(portPath string) flasher.ChipTransport {
	return &Transport{binary: d.binary, port: portPath, logger: d.logger}
}

// Transport drives esptool subprocesses against one serial port.
//
// Thread Safety: the flasher invokes operations sequentially; only
// Disconnect may arrive concurrently (session teardown) and it is safe
// against an in-flight operation.
type Transport struct {
	binary string
	port   string
	logger Logger

	mu   sync.Mutex
	baud int
	cmd  *exec.Cmd // in-flight subprocess, nil between operations
}

// Compile-time interface check.
var _ flasher.ChipTransport = (*Transport)(nil)

// Connect verifies the chip answers at the given baud rate and returns
// its identity string.
//
// The boot sequencer has already put the chip into its bootloader, so
// esptool is told not to run its own reset dance (--before no-reset).
func (t *Transport) Connect(ctx context.Context, baud int) (string, error) {
	t.mu.Lock()
	t.baud = baud
	t.mu.Unlock()

	out, err := t.run(ctx, nil, "chip-id")
	if err != nil {
		return "", classifyConnectError(err, out)
	}

	chipID := parseChipID(out)
	if chipID == "" {
		return "", fmt.Errorf("%w: chip identity missing from output", flasher.ErrConnectFailed)
	}
	return chipID, nil
}

// UploadStub forces a fresh stub upload by running a trivial stub-backed
// command. esptool re-uploads its flasher stub on every invocation, so a
// clean flash-id round trip is exactly the recovery cycle.
func (t *Transport) UploadStub(ctx context.Context) error {
	if _, err := t.run(ctx, nil, "flash-id"); err != nil {
		return fmt.Errorf("stub upload: %w", err)
	}
	return nil
}

// ApplyBaud records the negotiated rate for subsequent invocations.
func (t *Transport) ApplyBaud(baud int) error {
	t.mu.Lock()
	t.baud = baud
	t.mu.Unlock()
	return nil
}

// ReadReg reads one chip register. Used as the stub liveness probe.
func (t *Transport) ReadReg(ctx context.Context, addr uint32) (uint32, error) {
	out, err := t.run(ctx, nil, "read-mem", fmt.Sprintf("0x%08X", addr))
	if err != nil {
		return 0, fmt.Errorf("read reg 0x%08X: %w", addr, err)
	}

	value, ok := parseRegValue(out)
	if !ok {
		return 0, fmt.Errorf("read reg 0x%08X: value missing from output", addr)
	}
	return value, nil
}

// EraseRegion erases size bytes starting at addr.
func (t *Transport) EraseRegion(ctx context.Context, addr uint32, size int) error {
	// erase-region requires 4KB-aligned length.
	aligned := (size + 0xFFF) &^ 0xFFF
	_, err := t.run(ctx, nil,
		"erase-region", fmt.Sprintf("0x%X", addr), strconv.Itoa(aligned))
	if err != nil {
		return fmt.Errorf("erase 0x%X+%d: %w", addr, size, err)
	}
	return nil
}

// WriteFlash writes one file, streaming esptool's per-block progress
// percentages into onProgress.
func (t *Transport) WriteFlash(ctx context.Context, file firmware.FlashFile, onProgress func(pct float64)) error {
	tmp, err := os.CreateTemp("", "sensorflash-*.bin")
	if err != nil {
		return fmt.Errorf("write flash: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(file.Data.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write flash: temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write flash: temp file: %w", err)
	}

	onLine := func(line string) {
		if pct, ok := parseWriteProgress(line); ok {
			onProgress(pct)
		}
	}

	_, err = t.run(ctx, onLine,
		"write-flash", fmt.Sprintf("0x%X", file.Address), tmp.Name())
	if err != nil {
		return fmt.Errorf("write flash at 0x%X: %w", file.Address, err)
	}
	onProgress(100)
	return nil
}

// Reset hard-resets the chip out of the bootloader into the new firmware.
func (t *Transport) Reset(ctx context.Context) error {
	_, err := t.runWith(ctx, nil, []string{"--after", "hard-reset"}, "run")
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Disconnect kills any in-flight subprocess, releasing the port.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	cmd := t.cmd
	t.cmd = nil
	t.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			t.logger.Warn("failed to kill esptool subprocess", "error", err)
		}
	}
	return nil
}

// run executes one esptool invocation with the standard connection flags.
func (t *Transport) run(ctx context.Context, onLine func(string), args ...string) (string, error) {
	return t.runWith(ctx, onLine, []string{"--after", "no-reset"}, args...)
}

// runWith executes esptool with explicit after-behaviour flags, streaming
// stdout lines to onLine when set. Returns combined output.
func (t *Transport) runWith(ctx context.Context, onLine func(string), afterArgs []string, args ...string) (string, error) {
	t.mu.Lock()
	baud := t.baud
	t.mu.Unlock()

	full := []string{
		"--port", t.port,
		"--baud", strconv.Itoa(baud),
		"--before", "no-reset",
	}
	full = append(full, afterArgs...)
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, t.binary, full...)

	var outBuf, errBuf bytes.Buffer
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	// os/exec fills the stderr buffer from its own goroutine, so it must
	// not share a buffer with the scanner loop below. Wait joins that
	// goroutine; merging afterwards is safe.
	cmd.Stderr = &errBuf

	t.logger.Debug("running esptool", "args", full)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", t.binary, err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.mu.Unlock()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		outBuf.WriteString(line)
		outBuf.WriteByte('\n')
		if onLine != nil {
			onLine(line)
		}
	}

	waitErr := cmd.Wait()

	t.mu.Lock()
	t.cmd = nil
	t.mu.Unlock()

	out := outBuf.String() + errBuf.String()
	if waitErr != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, fmt.Errorf("%s %s: %w", t.binary, args[0], waitErr)
	}
	return out, nil
}
