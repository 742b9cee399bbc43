package supervise

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ToolStatus is one reconciled status entry for external consumers.
type ToolStatus struct {
	ToolID    string        `json:"tool_id"`
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Port      int           `json:"port,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	LastLog   []string      `json:"last_log,omitempty"`
	Failure   string        `json:"failure,omitempty"`
	Degraded  bool          `json:"degraded_centralization,omitempty"`
}

const snapshotLogLines = 10

// Snapshot reconciles every non-terminal record against OS-level process
// existence and returns a consistent view. A record whose process is gone
// without a stop request is force-transitioned to Errored, never dropped:
// operators must be able to tell "I stopped it" from "it died".
func (s *Supervisor) Snapshot() map[string]ToolStatus {
	s.mu.Lock()
	now := time.Now()
	out := make(map[string]ToolStatus, len(s.table))
	for id, rec := range s.table {
		if rec.State.Live() && !pidAlive(rec.PID) {
			// wait() normally observes the exit first; this only fires
			// when the exit status was reaped by someone else or the
			// table outlived the process
			if rec.State == StateStopping {
				rec.State = StateStopped
			} else {
				rec.State = StateErrored
				rec.Failure = fmt.Errorf("%w: process no longer exists", ErrUnexpectedExit)
				log.Error().Str("tool", id).Int("pid", rec.PID).
					Msg("reconcile: process vanished, marking errored")
			}
		}

		st := ToolStatus{
			ToolID:    id,
			State:     rec.State,
			PID:       rec.PID,
			Port:      rec.Port,
			StartedAt: rec.StartedAt,
			Degraded:  rec.Degraded,
			LastLog:   rec.ring.Tail(snapshotLogLines),
		}
		if rec.Failure != nil {
			st.Failure = rec.Failure.Error()
		}
		if rec.State.Live() && !rec.StartedAt.IsZero() {
			st.Uptime = now.Sub(rec.StartedAt)
		}
		out[id] = st
	}
	s.mu.Unlock()
	s.updateLiveGauge()
	return out
}
