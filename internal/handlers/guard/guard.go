package guard

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/moderation"
)

type (
	Engine interface {
		OnMessage(ctx context.Context, msg moderation.Message) bool
		Unmute(ctx context.Context, key moderation.Key) error
		ForceMute(ctx context.Context, key moderation.Key, d time.Duration, reason string) (moderation.MuteMode, error)
		Forgive(ctx context.Context, key moderation.Key) int
		Status(key moderation.Key) moderation.Snapshot
	}

	Chat interface {
		GetChatMember(ctx context.Context, chatID, userID int64) (api.ChatMember, error)
		DeleteMessage(ctx context.Context, chatID int64, messageID int, reason string) error
		Notify(ctx context.Context, notice moderation.Notice) error
		Reply(ctx context.Context, chatID int64, replyTo int, text string) error
	}

	Journal interface {
		AddSanction(ctx context.Context, sanction *db.Sanction) error
		ListSanctions(ctx context.Context, chatID int64, limit int) ([]*db.Sanction, error)
		ListUserSanctions(ctx context.Context, chatID, userID int64, limit int) ([]*db.Sanction, error)
	}

	Config struct {
		BotID            int64
		Language         string
		ForceMuteDefault time.Duration
		Blacklist        *Blacklist
	}

	// Guard is the update handler feeding group messages to the moderation
	// engine, the blacklist and the moderator commands.
	Guard struct {
		engine  Engine
		chat    Chat
		journal Journal
		config  Config
	}
)

func NewGuard(engine Engine, chat Chat, journal Journal, config Config) *Guard {
	if config.ForceMuteDefault <= 0 {
		config.ForceMuteDefault = 30 * time.Second
	}
	if config.Language == "" {
		config.Language = "en"
	}
	return &Guard{
		engine:  engine,
		chat:    chat,
		journal: journal,
		config:  config,
	}
}

func (g *Guard) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || u.Message == nil || chat == nil || user == nil {
		return true, nil
	}
	msg := u.Message
	if chat.IsPrivate() || user.ID == g.config.BotID || msg.SenderChat != nil {
		return true, nil
	}

	if msg.IsCommand() {
		if recognized, err := g.handleCommand(ctx, msg, chat, user); recognized {
			return false, err
		}
	}

	key := moderation.Key{ChatID: chat.ID, UserID: user.ID}
	handled := g.engine.OnMessage(ctx, moderation.Message{
		Key:       key,
		MessageID: msg.MessageID,
		Sender:    bot.GetUN(user),
		At:        time.Now(),
	})
	if handled {
		return false, nil
	}

	if pattern, ok := g.config.Blacklist.Match(bot.ExtractContentFromMessage(msg)); ok {
		g.removeBlacklisted(ctx, key, msg, user, pattern)
		return false, nil
	}
	return true, nil
}

func (g *Guard) removeBlacklisted(ctx context.Context, key moderation.Key, msg *api.Message, user *api.User, pattern string) {
	entry := g.getLogEntry().WithFields(key.Fields()).WithField("pattern", pattern)
	entry.Info("blacklisted content")

	failed := false
	if err := g.chat.DeleteMessage(ctx, key.ChatID, msg.MessageID, "Blacklisted content"); err != nil {
		failed = true
		entry.WithField("error", err.Error()).Warn("failed to delete blacklisted message")
	}
	if err := g.chat.Notify(ctx, moderation.Notice{
		Kind:    moderation.NoticeBlacklisted,
		Key:     key,
		Subject: bot.GetUN(user),
		ReplyTo: msg.MessageID,
		Failed:  failed,
	}); err != nil {
		entry.WithField("error", err.Error()).Warn("failed to send blacklist notice")
	}
	if g.journal != nil {
		if err := g.journal.AddSanction(ctx, &db.Sanction{
			ChatID:    key.ChatID,
			UserID:    key.UserID,
			Action:    db.SanctionBlacklist,
			Reason:    pattern,
			Failed:    failed,
			CreatedAt: time.Now(),
		}); err != nil {
			entry.WithField("error", err.Error()).Warn("failed to journal blacklist removal")
		}
	}
}

func (g *Guard) getLogEntry() *log.Entry {
	return log.WithField("object", "Guard")
}
