package guard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/moderation"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
)

const (
	CommandUnmute    = "unmute"
	CommandForceMute = "forcemute"
	CommandStatus    = "modstatus"
	CommandForgive   = "forgive"
	CommandLog       = "modlog"

	modlogLimit = 10
)

var ErrInvalidArguments = errors.New("invalid command arguments")

var usages = map[string]string{
	CommandUnmute:    "/unmute <user_id> or reply with /unmute",
	CommandForceMute: "/forcemute <user_id> [seconds] [reason] or reply with /forcemute [seconds] [reason]",
	CommandStatus:    "/modstatus <user_id> or reply with /modstatus",
	CommandForgive:   "/forgive <user_id> or reply with /forgive",
	CommandLog:       "/modlog [user_id] or reply with /modlog",
}

const sanctionLineTemplate = `{{ .time }} {{ .action }} {{ .user }}` +
	`{{ if .duration }} {{ .duration }}{{ end }}` +
	`{{ if .mode }} [{{ .mode }}]{{ end }}` +
	`{{ if .reason }} {{ .reason }}{{ end }}` +
	`{{ if .failed }} (failed){{ end }}`

type target struct {
	id   int64
	name string
}

// handleCommand runs a moderator command. It reports false for commands the
// guard does not own.
func (g *Guard) handleCommand(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) (bool, error) {
	command := strings.ToLower(msg.Command())
	if _, ok := usages[command]; !ok {
		return false, nil
	}
	entry := g.getLogEntry().WithFields(log.Fields{
		"command": command,
		"chat_id": chat.ID,
		"user_id": user.ID,
	})
	lang := g.config.Language

	member, err := g.chat.GetChatMember(ctx, chat.ID, user.ID)
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant check command issuer")
		g.reply(ctx, msg, i18n.Get("Failed to process the command, please try again later.", lang))
		return true, nil
	}
	if !permissions.IsPrivilegedModerator(&member) {
		g.reply(ctx, msg, i18n.Get("You are not allowed to use this command.", lang))
		return true, nil
	}

	args := strings.Fields(msg.CommandArguments())

	if command == CommandLog {
		return true, g.commandLog(ctx, msg, chat, args)
	}

	tgt, rest, err := parseTarget(msg, args)
	if err != nil {
		g.replyUsage(ctx, msg, command)
		return true, nil
	}
	key := moderation.Key{ChatID: chat.ID, UserID: tgt.id}
	entry = entry.WithField("target_id", tgt.id)

	switch command {
	case CommandUnmute:
		if err := g.engine.Unmute(ctx, key); err != nil {
			entry.WithField("error", err.Error()).Warn("unmute failed")
		}
	case CommandForceMute:
		d, reason, err := parseForceMute(rest, g.config.ForceMuteDefault)
		if err != nil {
			g.replyUsage(ctx, msg, command)
			return true, nil
		}
		mode, err := g.engine.ForceMute(ctx, key, d, reason)
		if err != nil {
			if errors.Is(err, moderation.ErrInvalidDuration) {
				g.replyUsage(ctx, msg, command)
				return true, nil
			}
			if errors.Is(err, moderation.ErrExemptSubject) {
				g.reply(ctx, msg, fmt.Sprintf(i18n.Get("%s is a chat administrator and cannot be muted.", lang), tgt.name))
				return true, nil
			}
			return true, fmt.Errorf("forcemute: %w", err)
		}
		entry.WithField("mode", mode).Info("forcemuted")
	case CommandStatus:
		g.reply(ctx, msg, g.renderStatus(g.engine.Status(key), tgt))
	case CommandForgive:
		previous := g.engine.Forgive(ctx, key)
		g.reply(ctx, msg, fmt.Sprintf(i18n.Get("Offenses of %s were reset (was %d).", lang), tgt.name, previous))
	}
	return true, nil
}

func (g *Guard) commandLog(ctx context.Context, msg *api.Message, chat *api.Chat, args []string) error {
	lang := g.config.Language
	if g.journal == nil {
		g.reply(ctx, msg, i18n.Get("No sanctions recorded yet.", lang))
		return nil
	}

	var (
		entries []*db.Sanction
		err     error
	)
	if tgt, _, perr := parseTarget(msg, args); perr == nil {
		entries, err = g.journal.ListUserSanctions(ctx, chat.ID, tgt.id, modlogLimit)
	} else {
		entries, err = g.journal.ListSanctions(ctx, chat.ID, modlogLimit)
	}
	if err != nil {
		g.reply(ctx, msg, i18n.Get("Failed to process the command, please try again later.", lang))
		return fmt.Errorf("list sanctions: %w", err)
	}
	if len(entries) == 0 {
		g.reply(ctx, msg, i18n.Get("No sanctions recorded yet.", lang))
		return nil
	}

	lines := []string{i18n.Get("Recent sanctions:", lang)}
	for _, s := range entries {
		lines = append(lines, FormatSanction(s))
	}
	g.reply(ctx, msg, strings.Join(lines, "\n"))
	return nil
}

func (g *Guard) renderStatus(snap moderation.Snapshot, tgt target) string {
	lang := g.config.Language
	mute := i18n.Get("none", lang)
	if snap.Mute != nil {
		mute = fmt.Sprintf(
			i18n.Get("until %s, %s", lang),
			snap.Mute.Until.UTC().Format(time.DateTime),
			snap.Mute.Mode,
		)
	}
	return fmt.Sprintf(
		i18n.Get("Moderation status of %s:\nmessages in window: %d\noffenses: %d\nmute: %s", lang),
		tgt.name, snap.WindowSize, snap.Offenses, mute,
	)
}

func (g *Guard) replyUsage(ctx context.Context, msg *api.Message, command string) {
	g.reply(ctx, msg, fmt.Sprintf(i18n.Get("Usage: %s", g.config.Language), usages[command]))
}

func (g *Guard) reply(ctx context.Context, msg *api.Message, text string) {
	if err := g.chat.Reply(ctx, msg.Chat.ID, msg.MessageID, text); err != nil {
		g.getLogEntry().WithField("error", err.Error()).Warn("failed to reply")
	}
}

// parseTarget takes the target from the replied-to message, or else from the
// first argument as a numeric user id.
func parseTarget(msg *api.Message, args []string) (target, []string, error) {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && !msg.ReplyToMessage.From.IsBot {
		from := msg.ReplyToMessage.From
		return target{id: from.ID, name: bot.GetUN(from)}, args, nil
	}
	if len(args) == 0 {
		return target{}, nil, ErrInvalidArguments
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return target{}, nil, ErrInvalidArguments
	}
	return target{id: id, name: args[0]}, args[1:], nil
}

// parseForceMute reads an optional duration, either whole seconds or a Go
// duration string, followed by a free form reason.
func parseForceMute(args []string, fallback time.Duration) (time.Duration, string, error) {
	if len(args) == 0 {
		return fallback, "", nil
	}
	if seconds, err := strconv.Atoi(args[0]); err == nil {
		if seconds <= 0 {
			return 0, "", ErrInvalidArguments
		}
		return time.Duration(seconds) * time.Second, strings.Join(args[1:], " "), nil
	}
	if d, err := time.ParseDuration(args[0]); err == nil {
		if d <= 0 {
			return 0, "", ErrInvalidArguments
		}
		return d, strings.Join(args[1:], " "), nil
	}
	return fallback, strings.Join(args, " "), nil
}

func FormatSanction(s *db.Sanction) string {
	duration := ""
	if s.DurationNS > 0 {
		duration = telegram.FormatDuration(s.Duration())
	}
	return tool.ExecTemplate(sanctionLineTemplate, map[string]any{
		"time":     s.CreatedAt.UTC().Format(time.DateTime),
		"action":   string(s.Action),
		"user":     s.UserID,
		"duration": duration,
		"mode":     s.Mode,
		"reason":   s.Reason,
		"failed":   s.Failed,
	})
}
