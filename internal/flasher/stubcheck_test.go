package flasher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStubCheck(sink *recordSink) *StubCheck {
	emit := func(sev Severity, msg string) {
		sink.OnLog("", LogEvent{Severity: sev, Message: msg})
	}
	return NewStubCheck(50*time.Millisecond, nil, emit)
}

func TestStubCheck_AnswersFirstProbe(t *testing.T) {
	sink := &recordSink{}
	transport := newFakeTransport()
	check := newTestStubCheck(sink)

	if err := check.Verify(context.Background(), transport, 460800); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if transport.readRegCalls != 1 {
		t.Errorf("probes = %d, want 1", transport.readRegCalls)
	}
	if transport.uploadCalls != 0 {
		t.Errorf("stub uploads = %d, want 0 (no recovery needed)", transport.uploadCalls)
	}
}

func TestStubCheck_RecoversOnce(t *testing.T) {
	sink := &recordSink{}
	transport := newFakeTransport()
	transport.readRegErrs = []error{errors.New("timeout waiting for reply"), nil}
	check := newTestStubCheck(sink)

	if err := check.Verify(context.Background(), transport, 230400); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if transport.readRegCalls != 2 {
		t.Errorf("probes = %d, want 2", transport.readRegCalls)
	}
	if transport.uploadCalls != 1 {
		t.Errorf("stub uploads = %d, want 1", transport.uploadCalls)
	}
	// Recovery must re-apply the negotiated rate.
	found := false
	for _, b := range transport.appliedBauds {
		if b == 230400 {
			found = true
		}
	}
	if !found {
		t.Errorf("negotiated baud not re-applied, applied = %v", transport.appliedBauds)
	}
	if !sink.hasLog(SeverityWarning, "re-syncing") {
		t.Error("recovery not logged as warning")
	}
}

func TestStubCheck_FatalAfterRecoveryFails(t *testing.T) {
	sink := &recordSink{}
	transport := newFakeTransport()
	transport.readRegErrs = []error{
		errors.New("timeout waiting for reply"),
		errors.New("timeout waiting for reply"),
	}
	check := newTestStubCheck(sink)

	err := check.Verify(context.Background(), transport, 460800)
	if !errors.Is(err, ErrStubVerification) {
		t.Fatalf("Verify() error = %v, want ErrStubVerification", err)
	}
	if !strings.Contains(err.Error(), "stub verification failed") {
		t.Errorf("error message = %q, want it to contain %q", err.Error(), "stub verification failed")
	}
	// Exactly one recovery cycle; no second upload.
	if transport.uploadCalls != 1 {
		t.Errorf("stub uploads = %d, want 1", transport.uploadCalls)
	}
	if transport.readRegCalls != 2 {
		t.Errorf("probes = %d, want 2", transport.readRegCalls)
	}
}

func TestStubCheck_UploadFailureIsFatal(t *testing.T) {
	sink := &recordSink{}
	transport := newFakeTransport()
	transport.readRegErrs = []error{errors.New("timeout")}
	transport.uploadStubErr = errors.New("ram write rejected")
	check := newTestStubCheck(sink)

	err := check.Verify(context.Background(), transport, 460800)
	if !errors.Is(err, ErrStubVerification) {
		t.Fatalf("Verify() error = %v, want ErrStubVerification", err)
	}
}
