package esptool

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nerrad567/sensorflash-core/internal/flasher"
)

// Output patterns across esptool v4 ("Chip is ...") and the legacy
// wording. Anchored loosely; esptool's output format drifts between
// releases.
var (
	chipIDPattern    = regexp.MustCompile(`(?m)^Chip is (.+)$`)
	regValuePattern  = regexp.MustCompile(`=\s*(0x[0-9a-fA-F]+)`)
	writePctPattern  = regexp.MustCompile(`Writing at 0x[0-9a-fA-F]+\.*\s*\((\d+)\s*%\)`)
	connectFailTexts = []string{
		"Failed to connect",
		"Invalid head of packet",
		"Timed out waiting for packet",
		"No serial data received",
	}
	portBusyTexts = []string{
		"could not open port",
		"Resource busy",
		"resource busy",
		"Permission denied",
		"Access is denied",
		"port is already open",
	}
)

// parseChipID extracts the chip identity line from esptool output.
// Returns "" when absent.
func parseChipID(out string) string {
	m := chipIDPattern.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// parseRegValue extracts a register value from read-mem output
// ("0x60000078 = 0x00062000").
func parseRegValue(out string) (uint32, bool) {
	m := regValuePattern.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(m[1], "0x"), 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// parseWriteProgress extracts the block progress percentage from one
// write-flash output line ("Writing at 0x00008000... (25 %)").
func parseWriteProgress(line string) (float64, bool) {
	m := writePctPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return float64(pct), true
}

// classifyConnectError maps a failed connect invocation onto the flasher
// error taxonomy using the subprocess output. The matched output line is
// carried in the error so the user sees esptool's own diagnosis, not
// just the category.
func classifyConnectError(err error, out string) error {
	for _, needle := range portBusyTexts {
		if line := matchLine(out, needle); line != "" {
			return fmt.Errorf("%w: %s", flasher.ErrConnectBusy, line)
		}
	}
	for _, needle := range connectFailTexts {
		if line := matchLine(out, needle); line != "" {
			return fmt.Errorf("%w: %s", flasher.ErrConnectFailed, line)
		}
	}
	// Unrecognised failure: fatal, abort negotiation.
	return err
}

// matchLine returns the trimmed output line containing needle, "" when
// absent.
func matchLine(out, needle string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, needle) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}
