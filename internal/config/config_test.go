package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

func TestProcessDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Process(context.Background(), envconfig.MapLookuper(map[string]string{
		"NG_TOKEN": "123:abc",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if cfg.DefaultLanguage != "en" || cfg.Workers != 8 || cfg.MetricsAddr != ":2112" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.HandlerEnabled("guard") || cfg.HandlerEnabled("admin") {
		t.Fatalf("unexpected handlers: %v", cfg.EnabledHandlers)
	}
	if strings.HasPrefix(cfg.DotPath, "~") {
		t.Fatalf("dot path not expanded: %s", cfg.DotPath)
	}
	if len(cfg.Blacklist) != 0 {
		t.Fatalf("blacklist should be empty by default: %v", cfg.Blacklist)
	}

	policy := cfg.Moderation.Policy()
	if policy.SpamInterval != 10*time.Second || policy.WarningThreshold != 5 || policy.BanThreshold != 4 {
		t.Fatalf("unexpected policy: %+v", policy)
	}
	want := []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute}
	if len(policy.MuteTiers) != len(want) {
		t.Fatalf("tiers = %v, want %v", policy.MuteTiers, want)
	}
	for i := range want {
		if policy.MuteTiers[i] != want[i] {
			t.Fatalf("tiers = %v, want %v", policy.MuteTiers, want)
		}
	}
	if policy.OffenseDecay != 0 {
		t.Fatalf("offense decay should be off by default")
	}
	if cfg.Moderation.ForceMuteDefault != 30*time.Second {
		t.Fatalf("forcemute default = %s", cfg.Moderation.ForceMuteDefault)
	}
	if cfg.Moderation.SweepInterval != 10*time.Minute {
		t.Fatalf("sweep interval = %s", cfg.Moderation.SweepInterval)
	}
}

func TestProcessOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := Process(context.Background(), envconfig.MapLookuper(map[string]string{
		"NG_TOKEN":              "123:abc",
		"NG_LANG":               "ru",
		"NG_WORKERS":            "0",
		"NG_DOT_PATH":           "/var/lib/ngguard",
		"NG_MOD_MUTE_TIERS":     "1m,5m",
		"NG_MOD_OFFENSE_DECAY":  "24h",
		"NG_MOD_SWEEP_INTERVAL": "0s",
		"NG_BLACKLIST":          `spam\d+;https?://\S+`,
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if cfg.DefaultLanguage != "ru" || cfg.DotPath != "/var/lib/ngguard" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Workers != 1 {
		t.Fatalf("workers should be clamped to 1, got %d", cfg.Workers)
	}
	if len(cfg.Moderation.MuteTiers) != 2 || cfg.Moderation.MuteTiers[1] != 5*time.Minute {
		t.Fatalf("unexpected tiers: %v", cfg.Moderation.MuteTiers)
	}
	if cfg.Moderation.OffenseDecay != 24*time.Hour {
		t.Fatalf("unexpected decay: %s", cfg.Moderation.OffenseDecay)
	}
	if cfg.Moderation.SweepInterval != 0 {
		t.Fatalf("sweeping should be disabled: %s", cfg.Moderation.SweepInterval)
	}
	if len(cfg.Blacklist) != 2 || cfg.Blacklist[0] != `spam\d+` {
		t.Fatalf("unexpected blacklist: %q", cfg.Blacklist)
	}
}

func TestProcessRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := Process(context.Background(), envconfig.MapLookuper(map[string]string{})); err == nil {
		t.Fatal("expected missing token error")
	}
}

func TestNbFormatter(t *testing.T) {
	t.Parallel()

	f := &NbFormatter{NoColors: true}
	entry := log.NewEntry(log.New()).WithFields(log.Fields{
		"user_id": 42,
		"object":  "ModerationEngine",
		"error":   errors.New("boom"),
	})
	entry.Level = log.WarnLevel
	entry.Message = "mute failed\nretrying"
	entry.Time = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := `level=WARN ts=2024-01-02 03:04:05.000 object="ModerationEngine" error="boom" user_id=42 msg="mute failed\nretrying"` + "\n"
	if string(out) != want {
		t.Fatalf("got  %q\nwant %q", out, want)
	}
}
