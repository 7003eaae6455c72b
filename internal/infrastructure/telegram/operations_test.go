package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/moderation"
)

type stubBot struct {
	mu sync.Mutex

	member     api.ChatMember
	memberErr  error
	chat       api.ChatFullInfo
	chatErr    error
	chatCalls  int
	requestErr error
	requests   []api.Chattable
	sent       []api.Chattable
	sendErr    error
}

func (b *stubBot) Request(c api.Chattable) (*api.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	if b.requestErr != nil {
		return nil, b.requestErr
	}
	return &api.APIResponse{Ok: true}, nil
}

func (b *stubBot) Send(c api.Chattable) (api.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return api.Message{}, b.sendErr
}

func (b *stubBot) GetChatMember(api.GetChatMemberConfig) (api.ChatMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.member, b.memberErr
}

func (b *stubBot) GetChat(api.ChatInfoConfig) (api.ChatFullInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chatCalls++
	return b.chat, b.chatErr
}

var key = moderation.Key{ChatID: -100, UserID: 7}

func TestMemberLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		member *api.ChatMember
		want   int
	}{
		{name: "nil", member: nil, want: LevelMember},
		{name: "creator", member: &api.ChatMember{Status: "creator"}, want: LevelOwner},
		{name: "administrator", member: &api.ChatMember{Status: "administrator"}, want: LevelAdmin},
		{name: "member", member: &api.ChatMember{Status: "member"}, want: LevelMember},
		{name: "restricted silent", member: &api.ChatMember{Status: "restricted"}, want: LevelMuted},
		{name: "restricted can talk", member: &api.ChatMember{Status: "restricted", CanSendMessages: true}, want: LevelMember},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MemberLevel(tt.member); got != tt.want {
				t.Fatalf("unexpected level: got %d want %d", got, tt.want)
			}
		})
	}
}

func TestSetPrivilegeLevelMutes(t *testing.T) {
	t.Parallel()
	bot := &stubBot{}
	ops := NewOperations(bot)

	until := time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := ops.SetPrivilegeLevel(context.Background(), key, LevelMuted, until); err != nil {
		t.Fatalf("set level: %v", err)
	}
	if len(bot.requests) != 1 {
		t.Fatalf("unexpected requests count: %d", len(bot.requests))
	}
	cfg, ok := bot.requests[0].(api.RestrictChatMemberConfig)
	if !ok {
		t.Fatalf("unexpected request type %T", bot.requests[0])
	}
	if cfg.Permissions == nil || cfg.Permissions.CanSendMessages {
		t.Fatalf("mute must drop send permissions: %+v", cfg.Permissions)
	}
	if !cfg.UseIndependentChatPermissions {
		t.Fatalf("mute must use independent permissions")
	}
	if cfg.ChatID != key.ChatID || cfg.UserID != key.UserID {
		t.Fatalf("unexpected target: %d/%d", cfg.ChatID, cfg.UserID)
	}
	if want := until.Add(restrictionGrace).Unix(); cfg.UntilDate != want {
		t.Fatalf("mute must expire on the Telegram side: until_date %d, want %d", cfg.UntilDate, want)
	}
}

func TestSetPrivilegeLevelWithoutDeadlineIsPermanent(t *testing.T) {
	t.Parallel()
	bot := &stubBot{}
	ops := NewOperations(bot)

	if err := ops.SetPrivilegeLevel(context.Background(), key, LevelMuted, time.Time{}); err != nil {
		t.Fatalf("set level: %v", err)
	}
	if cfg := bot.requests[0].(api.RestrictChatMemberConfig); cfg.UntilDate != 0 {
		t.Fatalf("unexpected until_date %d", cfg.UntilDate)
	}
}

func TestSetPrivilegeLevelRestoresChatDefaults(t *testing.T) {
	t.Parallel()
	bot := &stubBot{chat: api.ChatFullInfo{Permissions: &api.ChatPermissions{CanSendMessages: true, CanSendPolls: false}}}
	ops := NewOperations(bot)
	ctx := context.Background()

	level, err := ops.DefaultPrivilegeLevel(ctx, key.ChatID)
	if err != nil {
		t.Fatalf("default level: %v", err)
	}
	if level != LevelMember {
		t.Fatalf("unexpected default level %d", level)
	}
	if err := ops.SetPrivilegeLevel(ctx, key, LevelMember, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("set level: %v", err)
	}

	if bot.chatCalls != 1 {
		t.Fatalf("chat permissions must be cached, got %d GetChat calls", bot.chatCalls)
	}
	cfg := bot.requests[0].(api.RestrictChatMemberConfig)
	if !cfg.Permissions.CanSendMessages || cfg.Permissions.CanSendPolls {
		t.Fatalf("unexpected permissions: %+v", cfg.Permissions)
	}
	if cfg.UseIndependentChatPermissions {
		t.Fatalf("restore must not use independent permissions")
	}
	if cfg.UntilDate != 0 {
		t.Fatalf("restore must not carry a deadline, got %d", cfg.UntilDate)
	}
}

func TestSetPrivilegeLevelFallsBackToFullPermissions(t *testing.T) {
	t.Parallel()
	bot := &stubBot{chatErr: errors.New("chat not found")}
	ops := NewOperations(bot)

	if err := ops.SetPrivilegeLevel(context.Background(), key, LevelMember, time.Time{}); err != nil {
		t.Fatalf("set level: %v", err)
	}
	cfg := bot.requests[0].(api.RestrictChatMemberConfig)
	if !cfg.Permissions.CanSendMessages || !cfg.Permissions.CanSendOtherMessages {
		t.Fatalf("expected full send permissions, got %+v", cfg.Permissions)
	}
}

func TestSetPrivilegeLevelSkipsAdmins(t *testing.T) {
	t.Parallel()
	bot := &stubBot{}
	ops := NewOperations(bot)

	if err := ops.SetPrivilegeLevel(context.Background(), key, LevelAdmin, time.Time{}); err != nil {
		t.Fatalf("set level: %v", err)
	}
	if len(bot.requests) != 0 {
		t.Fatalf("no request expected for admin level")
	}
}

func TestPrivilegeErrors(t *testing.T) {
	t.Parallel()
	bot := &stubBot{requestErr: errors.New("Bad Request: not enough rights to restrict/unrestrict chat member")}
	ops := NewOperations(bot)

	err := ops.SetPrivilegeLevel(context.Background(), key, LevelMuted, time.Now().Add(time.Minute))
	if !errors.Is(err, moderation.ErrNoPrivileges) {
		t.Fatalf("expected ErrNoPrivileges, got %v", err)
	}

	bot.requestErr = errors.New("Bad Request: CHAT_ADMIN_REQUIRED")
	if err := ops.RemoveUser(context.Background(), key, "spam"); !errors.Is(err, moderation.ErrNoPrivileges) {
		t.Fatalf("expected ErrNoPrivileges, got %v", err)
	}

	bot.requestErr = errors.New("timeout")
	err = ops.RemoveUser(context.Background(), key, "spam")
	if err == nil || errors.Is(err, moderation.ErrNoPrivileges) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemoveUserBansAndRevokes(t *testing.T) {
	t.Parallel()
	bot := &stubBot{}
	ops := NewOperations(bot)

	if err := ops.RemoveUser(context.Background(), key, "Spamming multiple times"); err != nil {
		t.Fatalf("remove user: %v", err)
	}
	cfg, ok := bot.requests[0].(api.BanChatMemberConfig)
	if !ok {
		t.Fatalf("unexpected request type %T", bot.requests[0])
	}
	if !cfg.RevokeMessages || cfg.UntilDate != 0 {
		t.Fatalf("ban must be permanent and revoke messages: %+v", cfg)
	}
}

func TestGetPrivilegeLevel(t *testing.T) {
	t.Parallel()
	bot := &stubBot{member: api.ChatMember{Status: "administrator"}}
	ops := NewOperations(bot)

	level, err := ops.GetPrivilegeLevel(context.Background(), key)
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if level != LevelAdmin {
		t.Fatalf("unexpected level %d", level)
	}

	bot.memberErr = errors.New("user not found")
	if _, err := ops.GetPrivilegeLevel(context.Background(), key); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()
	bot := &stubBot{}
	ops := NewOperations(bot, WithRequestsPerSecond(0.001))

	ctx := context.Background()
	if err := ops.DeleteMessage(ctx, key.ChatID, 1, "test"); err != nil {
		t.Fatalf("first request must pass the burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := ops.DeleteMessage(ctx, key.ChatID, 2, "test"); err == nil {
		t.Fatalf("expected limiter error")
	}
	if len(bot.requests) != 1 {
		t.Fatalf("second request must not reach the api")
	}
}

func TestNotifyRepliesToTrigger(t *testing.T) {
	t.Parallel()
	bot := &stubBot{}
	ops := NewOperations(bot)

	err := ops.Notify(context.Background(), moderation.Notice{
		Kind:     moderation.NoticeMuted,
		Key:      key,
		Subject:  "spammer",
		ReplyTo:  42,
		Duration: 30 * time.Second,
		Reason:   "Spamming (1st mute)",
		Mode:     moderation.MuteModeDowngrade,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg, ok := bot.sent[0].(api.MessageConfig)
	if !ok {
		t.Fatalf("unexpected message type %T", bot.sent[0])
	}
	if msg.ReplyParameters.MessageID != 42 {
		t.Fatalf("unexpected reply target %d", msg.ReplyParameters.MessageID)
	}
	if !strings.Contains(msg.Text, "spammer") || !strings.Contains(msg.Text, "30s") {
		t.Fatalf("unexpected text %q", msg.Text)
	}
}

func TestRenderNotice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		notice moderation.Notice
		want   string
	}{
		{
			name:   "warning",
			notice: moderation.Notice{Kind: moderation.NoticeWarning, Subject: "bob"},
			want:   "please slow down",
		},
		{
			name:   "fallback mute",
			notice: moderation.Notice{Kind: moderation.NoticeMuted, Subject: "bob", Duration: time.Minute, Mode: moderation.MuteModeFallbackDelete},
			want:   "messages will be deleted",
		},
		{
			name:   "failed ban",
			notice: moderation.Notice{Kind: moderation.NoticeBanned, Subject: "bob", Failed: true},
			want:   "may have failed",
		},
		{
			name:   "manual unmute",
			notice: moderation.Notice{Kind: moderation.NoticeUnmutedManual, Subject: "bob"},
			want:   "by a moderator",
		},
		{
			name:   "auto unmute",
			notice: moderation.Notice{Kind: moderation.NoticeUnmutedAuto, Subject: "bob"},
			want:   "automatically",
		},
		{
			name:   "failed unmute",
			notice: moderation.Notice{Kind: moderation.NoticeUnmutedAuto, Subject: "bob", Failed: true},
			want:   "may have failed",
		},
		{
			name:   "blacklist",
			notice: moderation.Notice{Kind: moderation.NoticeBlacklisted, Subject: "bob"},
			want:   "(blacklisted)",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RenderNotice(tt.notice, "en")
			if !strings.Contains(got, tt.want) || !strings.Contains(got, "bob") {
				t.Fatalf("unexpected text %q", got)
			}
		})
	}

	ru := RenderNotice(moderation.Notice{Kind: moderation.NoticeMuted, Subject: "bob", Duration: time.Minute, Reason: "flood"}, "ru")
	if !strings.Contains(ru, "мут на 1m0s") || !strings.Contains(ru, "flood") {
		t.Fatalf("unexpected ru text %q", ru)
	}

	if RenderNotice(moderation.Notice{Kind: "unknown"}, "en") != "" {
		t.Fatalf("unknown notice must render empty")
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	if got := FormatDuration(90 * time.Second); got != "1m30s" {
		t.Fatalf("unexpected duration %q", got)
	}
	if got := FormatDuration(1500 * time.Millisecond); got != "2s" {
		t.Fatalf("unexpected duration %q", got)
	}
}
