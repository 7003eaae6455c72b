package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	LevelMuted = -1
	// LevelFloor is used for restoration when neither a captured nor a room
	// default level is available.
	LevelFloor = 0
	// LevelExempt and above are chat administrators. Flood control never
	// warns, mutes or bans them.
	LevelExempt = 50
)

var (
	ErrNoPrivileges    = errors.New("no privileges")
	ErrInvalidDuration = errors.New("invalid mute duration")
	ErrExemptSubject   = errors.New("subject is exempt from moderation")
)

type (
	Key struct {
		ChatID int64
		UserID int64
	}

	// Gateway lowers, restores and removes chat members. Every call is a
	// single attempt; the engine decides how to degrade on failure.
	//
	// SetPrivilegeLevel with a non-zero until asks the chat to lift the
	// change by itself at that moment, so a mute still ends when the local
	// restoration never runs.
	Gateway interface {
		GetPrivilegeLevel(ctx context.Context, key Key) (int, error)
		SetPrivilegeLevel(ctx context.Context, key Key, level int, until time.Time) error
		DefaultPrivilegeLevel(ctx context.Context, chatID int64) (int, error)
		RemoveUser(ctx context.Context, key Key, reason string) error
		DeleteMessage(ctx context.Context, chatID int64, messageID int, reason string) error
	}

	Notifier interface {
		Notify(ctx context.Context, notice Notice) error
	}

	NoticeKind string

	Notice struct {
		Kind     NoticeKind
		Key      Key
		Subject  string
		ReplyTo  int
		Duration time.Duration
		Reason   string
		Mode     MuteMode
		// Failed marks an enforcement whose remote side effect did not go
		// through; the local state was updated regardless.
		Failed bool
	}
)

const (
	NoticeWarning       NoticeKind = "warning"
	NoticeMuted         NoticeKind = "muted"
	NoticeBanned        NoticeKind = "banned"
	NoticeUnmutedAuto   NoticeKind = "unmuted_auto"
	NoticeUnmutedManual NoticeKind = "unmuted_manual"
	NoticeBlacklisted   NoticeKind = "blacklisted"
)

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.ChatID, k.UserID)
}

func (k Key) Fields() log.Fields {
	return log.Fields{
		"chat_id": k.ChatID,
		"user_id": k.UserID,
	}
}
