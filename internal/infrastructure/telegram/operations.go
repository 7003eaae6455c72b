package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/iamwavecut/ngguard/internal/moderation"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
)

const (
	MsgNoPrivileges = "not enough rights"
	msgNotAdmin     = "CHAT_ADMIN_REQUIRED"

	// Telegram allows bursts of about 30 requests per second per bot.
	defaultRequestsPerSecond = 25

	permissionsCacheSize = 1024
	permissionsCacheTTL  = 10 * time.Minute

	// Telegram treats an until_date closer than 30 seconds as forever, so the
	// deadline handed over is padded.
	restrictionGrace = time.Minute
)

// Privilege levels of chat members as seen by the moderation engine.
const (
	LevelMuted  = moderation.LevelMuted
	LevelMember = 0
	LevelAdmin  = moderation.LevelExempt
	LevelOwner  = 100
)

type botAPI interface {
	Request(c api.Chattable) (*api.APIResponse, error)
	Send(c api.Chattable) (api.Message, error)
	GetChatMember(config api.GetChatMemberConfig) (api.ChatMember, error)
	GetChat(config api.ChatInfoConfig) (api.ChatFullInfo, error)
}

// Operations adapts the Bot API to the moderation gateway and notifier.
type Operations struct {
	bot         botAPI
	limiter     *rate.Limiter
	permissions *expirable.LRU[int64, api.ChatPermissions]
	language    string
}

type Option func(*Operations)

func WithRequestsPerSecond(rps float64) Option {
	return func(o *Operations) {
		if rps > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
		}
	}
}

func WithLanguage(lang string) Option {
	return func(o *Operations) {
		o.language = lang
	}
}

func NewOperations(bot botAPI, opts ...Option) *Operations {
	o := &Operations{
		bot:         bot,
		limiter:     rate.NewLimiter(defaultRequestsPerSecond, defaultRequestsPerSecond),
		permissions: expirable.NewLRU[int64, api.ChatPermissions](permissionsCacheSize, nil, permissionsCacheTTL),
		language:    "en",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Operations) GetPrivilegeLevel(ctx context.Context, key moderation.Key) (int, error) {
	member, err := o.GetChatMember(ctx, key.ChatID, key.UserID)
	if err != nil {
		return 0, err
	}
	return MemberLevel(&member), nil
}

// SetPrivilegeLevel restricts the member completely for LevelMuted and resets
// the member to the chat default permissions for any level below LevelAdmin.
// Higher levels are left untouched since the bot cannot grant them. A mute
// with a non-zero until is lifted by Telegram shortly after that moment.
func (o *Operations) SetPrivilegeLevel(ctx context.Context, key moderation.Key, level int, until time.Time) error {
	switch {
	case level >= LevelAdmin:
		return nil
	case level <= LevelMuted:
		return o.restrict(ctx, key, &api.ChatPermissions{}, true, until, "restrict")
	}

	perms, err := o.chatPermissions(ctx, key.ChatID)
	if err != nil {
		o.getLogEntry().WithFields(key.Fields()).WithField("error", err.Error()).Debug("using full send permissions")
		perms = fullSendPermissions()
	}
	return o.restrict(ctx, key, &perms, false, time.Time{}, "unrestrict")
}

func (o *Operations) DefaultPrivilegeLevel(ctx context.Context, chatID int64) (int, error) {
	if _, err := o.chatPermissions(ctx, chatID); err != nil {
		return 0, err
	}
	return LevelMember, nil
}

func (o *Operations) RemoveUser(ctx context.Context, key moderation.Key, reason string) error {
	o.getLogEntry().WithFields(key.Fields()).WithField("reason", reason).Info("banning")
	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: key.ChatID,
			},
			UserID: key.UserID,
		},
		RevokeMessages: true,
	}
	if err := o.request(ctx, config); err != nil {
		return withPrivilegeError(err, "ban")
	}
	return nil
}

func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int, reason string) error {
	o.getLogEntry().WithFields(log.Fields{
		"chat_id":    chatID,
		"message_id": messageID,
		"reason":     reason,
	}).Debug("deleting message")
	if err := o.request(ctx, api.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (o *Operations) GetChatMember(ctx context.Context, chatID, userID int64) (api.ChatMember, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return api.ChatMember{}, err
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
	})
	if err != nil {
		return api.ChatMember{}, fmt.Errorf("get chat member: %w", err)
	}
	return member, nil
}

func (o *Operations) restrict(ctx context.Context, key moderation.Key, perms *api.ChatPermissions, independent bool, until time.Time, operation string) error {
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: key.ChatID},
			UserID:     key.UserID,
		},
		Permissions: perms,

		UseIndependentChatPermissions: independent,
	}
	if !until.IsZero() {
		config.UntilDate = until.Add(restrictionGrace).Unix()
	}
	if err := o.request(ctx, config); err != nil {
		return withPrivilegeError(err, operation)
	}
	return nil
}

func (o *Operations) chatPermissions(ctx context.Context, chatID int64) (api.ChatPermissions, error) {
	if perms, ok := o.permissions.Get(chatID); ok {
		return perms, nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return api.ChatPermissions{}, err
	}
	info, err := o.bot.GetChat(api.ChatInfoConfig{
		ChatConfig: api.ChatConfig{
			ChatID: chatID,
		},
	})
	if err != nil {
		return api.ChatPermissions{}, fmt.Errorf("get chat: %w", err)
	}
	if info.Permissions == nil {
		return api.ChatPermissions{}, errors.New("chat has no default permissions")
	}
	o.permissions.Add(chatID, *info.Permissions)
	return *info.Permissions, nil
}

func (o *Operations) request(ctx context.Context, c api.Chattable) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := o.bot.Request(c)
	return err
}

func (o *Operations) getLogEntry() *log.Entry {
	return log.WithField("object", "TelegramOperations")
}

// MemberLevel maps a chat member onto the engine privilege scale.
func MemberLevel(member *api.ChatMember) int {
	switch {
	case member == nil:
		return LevelMember
	case member.IsCreator():
		return LevelOwner
	case member.IsAdministrator():
		return LevelAdmin
	case permissions.IsMuted(member):
		return LevelMuted
	}
	return LevelMember
}

func fullSendPermissions() api.ChatPermissions {
	return api.ChatPermissions{
		CanSendMessages:       true,
		CanSendAudios:         true,
		CanSendDocuments:      true,
		CanSendPhotos:         true,
		CanSendVideos:         true,
		CanSendVideoNotes:     true,
		CanSendVoiceNotes:     true,
		CanSendPolls:          true,
		CanSendOtherMessages:  true,
		CanAddWebPagePreviews: true,
	}
}

func withPrivilegeError(err error, operation string) error {
	if strings.Contains(err.Error(), MsgNoPrivileges) || strings.Contains(err.Error(), msgNotAdmin) {
		return fmt.Errorf("%w: %s", moderation.ErrNoPrivileges, operation)
	}
	return fmt.Errorf("failed to %s user: %w", operation, err)
}
