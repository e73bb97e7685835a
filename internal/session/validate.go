package session

import (
	"encoding/json"

	"github.com/synckairos/synckairos/internal/errs"
	"github.com/synckairos/synckairos/internal/idgen"
)

const (
	minParticipantTimeMs = 1_000
	maxParticipantTimeMs = 86_400_000
	maxDayMs             = 86_400_000
	maxIncrementMs       = 60_000
	maxMetadataBytes     = 10 * 1024
	maxParticipants      = 1000
)

var validModes = map[SyncMode]bool{
	ModePerParticipant: true,
	ModePerCycle:       true,
	ModePerGroup:       true,
	ModeGlobal:         true,
	ModeCountUp:        true,
}

// ValidateCreateConfig enforces every bound a new session must satisfy.
func ValidateCreateConfig(cfg CreateConfig) error {
	if !idgen.Valid(cfg.SessionID) {
		return errs.Validation("session_id must be a well-formed UUID")
	}
	if !validModes[cfg.SyncMode] {
		return errs.Validation("sync_mode is not one of the recognized values")
	}
	if len(cfg.Participants) < 1 || len(cfg.Participants) > maxParticipants {
		return errs.Validation("participants must contain between 1 and 1000 entries")
	}
	seenIDs := make(map[string]bool, len(cfg.Participants))
	seenIdx := make(map[int]bool, len(cfg.Participants))
	explicitIdx := 0
	for _, p := range cfg.Participants {
		if !idgen.Valid(p.ParticipantID) {
			return errs.Validation("participant_id must be a well-formed UUID")
		}
		if seenIDs[p.ParticipantID] {
			return errs.Validation("participant_id values must be unique")
		}
		seenIDs[p.ParticipantID] = true
		if p.TotalTimeMs < minParticipantTimeMs || p.TotalTimeMs > maxParticipantTimeMs {
			return errs.Validation("total_time_ms must be within [1000, 86400000]")
		}
		if p.ParticipantIndex != nil {
			explicitIdx++
			if seenIdx[*p.ParticipantIndex] {
				return errs.Validation("participant_index values must be unique")
			}
			seenIdx[*p.ParticipantIndex] = true
		}
	}
	// participant_index values are either all omitted (the engine assigns
	// them densely from array order) or all supplied, and in the latter
	// case must themselves be dense starting at 0: a client-supplied set
	// like {0, 5} would leave SwitchCycle's modulo rotation unable to
	// find the next index and stall the session with no active participant.
	if explicitIdx > 0 && explicitIdx != len(cfg.Participants) {
		return errs.Validation("participant_index must be set on every participant or none")
	}
	if explicitIdx > 0 {
		for idx := 0; idx < len(cfg.Participants); idx++ {
			if !seenIdx[idx] {
				return errs.Validation("participant_index values must be dense starting at 0")
			}
		}
	}
	if cfg.TimePerCycleMs < 0 || cfg.TimePerCycleMs > maxDayMs {
		return errs.Validation("time_per_cycle_ms must be within [0, 86400000]")
	}
	if cfg.IncrementMs < 0 || cfg.IncrementMs > maxIncrementMs {
		return errs.Validation("increment_ms must be within [0, 60000]")
	}
	if cfg.MaxTimeMs < 0 || cfg.MaxTimeMs > maxDayMs {
		return errs.Validation("max_time_ms must be within [0, 86400000]")
	}
	if cfg.Metadata != nil {
		b, err := json.Marshal(cfg.Metadata)
		if err != nil {
			return errs.Validation("metadata must be JSON-serializable")
		}
		if len(b) > maxMetadataBytes {
			return errs.Validation("metadata must not exceed 10 KB")
		}
	}
	return nil
}
