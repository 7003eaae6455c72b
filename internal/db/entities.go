package db

import "time"

type SanctionAction string

const (
	SanctionWarn         SanctionAction = "warn"
	SanctionMute         SanctionAction = "mute"
	SanctionForceMute    SanctionAction = "forcemute"
	SanctionBan          SanctionAction = "ban"
	SanctionUnmuteAuto   SanctionAction = "unmute_auto"
	SanctionUnmuteManual SanctionAction = "unmute_manual"
	SanctionForgive      SanctionAction = "forgive"
	SanctionBlacklist    SanctionAction = "blacklist"
)

// Sanction is one row of the append-only moderation journal. It is never
// read back into the moderation state machine.
type Sanction struct {
	ID         string         `db:"id"`
	ChatID     int64          `db:"chat_id"`
	UserID     int64          `db:"user_id"`
	Action     SanctionAction `db:"action"`
	Offense    int            `db:"offense"`
	DurationNS int64          `db:"duration_ns"`
	Mode       string         `db:"mode"`
	Reason     string         `db:"reason"`
	Failed     bool           `db:"failed"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (s *Sanction) Duration() time.Duration {
	return time.Duration(s.DurationNS)
}
