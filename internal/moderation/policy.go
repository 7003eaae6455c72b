package moderation

import (
	"fmt"
	"time"
)

const (
	defaultSpamInterval     = 10 * time.Second
	defaultWarningThreshold = 5
	defaultWarningCooldown  = 30 * time.Second
	defaultGatewayTimeout   = 10 * time.Second
)

// Policy holds the tunables of the escalation state machine.
type Policy struct {
	SpamInterval     time.Duration
	WarningThreshold int
	WarningCooldown  time.Duration
	MuteTiers        []time.Duration
	BanThreshold     int

	// OffenseDecay resets the offense counter once the last escalation is at
	// least this old. Zero keeps offenses for the process lifetime.
	OffenseDecay time.Duration

	GatewayTimeout time.Duration
}

type Sanction struct {
	Offense  int
	Ban      bool
	Duration time.Duration
	Reason   string
}

func DefaultMuteTiers() []time.Duration {
	return []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
}

func DefaultPolicy() Policy {
	return normalizePolicy(Policy{})
}

func normalizePolicy(p Policy) Policy {
	if p.SpamInterval <= 0 {
		p.SpamInterval = defaultSpamInterval
	}
	if p.WarningThreshold < 1 {
		p.WarningThreshold = defaultWarningThreshold
	}
	if p.WarningCooldown <= 0 {
		p.WarningCooldown = defaultWarningCooldown
	}

	tiers := make([]time.Duration, 0, len(p.MuteTiers))
	for _, tier := range p.MuteTiers {
		if tier > 0 {
			tiers = append(tiers, tier)
		}
	}
	if len(tiers) == 0 {
		tiers = DefaultMuteTiers()
	}
	p.MuteTiers = tiers

	if p.BanThreshold < 1 {
		p.BanThreshold = len(p.MuteTiers) + 1
	}
	if p.OffenseDecay < 0 {
		p.OffenseDecay = 0
	}
	if p.GatewayTimeout <= 0 {
		p.GatewayTimeout = defaultGatewayTimeout
	}
	return p
}

// Sanction maps an offense count to its punishment tier. Offenses past the
// configured tiers but below the ban threshold keep doubling the last tier.
func (p Policy) Sanction(offense int) Sanction {
	if offense < 1 {
		offense = 1
	}
	if offense >= p.BanThreshold {
		return Sanction{
			Offense: offense,
			Ban:     true,
			Reason:  "Spamming multiple times",
		}
	}

	var duration time.Duration
	if offense <= len(p.MuteTiers) {
		duration = p.MuteTiers[offense-1]
	} else {
		duration = p.MuteTiers[len(p.MuteTiers)-1]
		for i := len(p.MuteTiers); i < offense; i++ {
			duration *= 2
		}
	}

	return Sanction{
		Offense:  offense,
		Duration: duration,
		Reason:   fmt.Sprintf("Spamming (%s mute)", ordinal(offense)),
	}
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
