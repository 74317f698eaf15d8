package history

import (
	"context"

	"github.com/nerrad567/sensorflash-core/internal/flasher"
)

// Recorder adapts the repository to the flasher's Recorder interface so
// finished sessions land in SQLite without the flasher knowing about SQL.
type Recorder struct {
	repo *Repository
}

// NewRecorder creates a session recorder over the repository.
func NewRecorder(repo *Repository) *Recorder {
	return &Recorder{repo: repo}
}

// Record persists one finished session and its event log.
func (r *Recorder) Record(ctx context.Context, rec flasher.SessionRecord) error {
	session := &Session{
		ID:              rec.ID,
		Port:            rec.Port,
		Platform:        rec.Platform,
		DeviceID:        rec.DeviceID,
		ChipID:          rec.ChipID,
		FirmwareVersion: rec.FirmwareVersion,
		Attempts:        rec.Attempts,
		Baud:            rec.Baud,
		FallbackUsed:    rec.FallbackUsed,
		Outcome:         string(rec.Outcome),
		Error:           rec.Error,
		StartedAt:       rec.StartedAt,
		FinishedAt:      rec.FinishedAt,
	}

	events := make([]Event, 0, len(rec.Events))
	for _, e := range rec.Events {
		events = append(events, Event{
			SessionID: rec.ID,
			Timestamp: e.Timestamp,
			Severity:  string(e.Severity),
			Message:   e.Message,
		})
	}

	return r.repo.Save(ctx, session, events)
}
