package telegram

import (
	"context"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/moderation"
)

// Notify sends the chat-visible text of a moderation notice, replying to the
// triggering message when there is one.
func (o *Operations) Notify(ctx context.Context, notice moderation.Notice) error {
	text := RenderNotice(notice, o.language)
	if text == "" {
		return nil
	}

	msg := api.NewMessage(notice.Key.ChatID, text)
	msg.DisableNotification = true
	msg.LinkPreviewOptions.IsDisabled = true
	if notice.ReplyTo != 0 {
		msg.ReplyParameters = api.ReplyParameters{
			ChatID:                   notice.Key.ChatID,
			MessageID:                notice.ReplyTo,
			AllowSendingWithoutReply: true,
		}
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := o.bot.Send(msg); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

func RenderNotice(notice moderation.Notice, lang string) string {
	switch notice.Kind {
	case moderation.NoticeWarning:
		return fmt.Sprintf(i18n.Get("⚠️ %s, please slow down! This is your warning.", lang), notice.Subject)
	case moderation.NoticeMuted:
		if notice.Mode == moderation.MuteModeFallbackDelete {
			return fmt.Sprintf(
				i18n.Get("🔇 %s has been muted for %s. I could not change their permissions, so their messages will be deleted. Reason: %s", lang),
				notice.Subject, FormatDuration(notice.Duration), notice.Reason,
			)
		}
		return fmt.Sprintf(i18n.Get("🔇 %s has been muted for %s. Reason: %s", lang), notice.Subject, FormatDuration(notice.Duration), notice.Reason)
	case moderation.NoticeBanned:
		if notice.Failed {
			return fmt.Sprintf(i18n.Get("⚠️ Tried to ban %s, but it may have failed. Reason: %s", lang), notice.Subject, notice.Reason)
		}
		return fmt.Sprintf(i18n.Get("🚫 %s has been banned. Reason: %s", lang), notice.Subject, notice.Reason)
	case moderation.NoticeUnmutedAuto, moderation.NoticeUnmutedManual:
		if notice.Failed {
			return fmt.Sprintf(i18n.Get("⚠️ Tried to unmute %s, but it may have failed.", lang), notice.Subject)
		}
		if notice.Kind == moderation.NoticeUnmutedManual {
			return fmt.Sprintf(i18n.Get("🔊 %s has been unmuted by a moderator.", lang), notice.Subject)
		}
		return fmt.Sprintf(i18n.Get("🔊 %s has been unmuted automatically.", lang), notice.Subject)
	case moderation.NoticeBlacklisted:
		return fmt.Sprintf(i18n.Get("⚠️ %s, your message was removed (blacklisted).", lang), notice.Subject)
	}
	return ""
}

func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}
	return d.Round(time.Second).String()
}

// Reply sends a plain text reply to a message in a chat.
func (o *Operations) Reply(ctx context.Context, chatID int64, replyTo int, text string) error {
	msg := api.NewMessage(chatID, text)
	msg.LinkPreviewOptions.IsDisabled = true
	if replyTo != 0 {
		msg.ReplyParameters = api.ReplyParameters{
			ChatID:                   chatID,
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		}
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := o.bot.Send(msg); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}
