package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	UpdateTimeout = 5 * time.Minute

	PollRetryMin = time.Second
	PollRetryMax = 30 * time.Second
)

type (
	UpdateProcessor struct {
		registered     map[string]Handler
		updateHandlers []Handler
	}

	MessageType string
)

const (
	MessageTypeText      MessageType = "text"
	MessageTypeAnimation MessageType = "animation"
	MessageTypeAudio     MessageType = "audio"
	MessageTypeContact   MessageType = "contact"
	MessageTypeDocument  MessageType = "document"
	MessageTypeLocation  MessageType = "location"
	MessageTypePhoto     MessageType = "photo"
	MessageTypePoll      MessageType = "poll"
	MessageTypeSticker   MessageType = "sticker"
	MessageTypeVenue     MessageType = "venue"
	MessageTypeVideo     MessageType = "video"
	MessageTypeVideoNote MessageType = "video_note"
	MessageTypeVoice     MessageType = "voice"
)

func NewUpdateProcessor() *UpdateProcessor {
	return &UpdateProcessor{
		registered: make(map[string]Handler),
	}
}

func (up *UpdateProcessor) RegisterUpdateHandler(title string, handler Handler) {
	up.registered[title] = handler
}

// Enable selects the registered handlers to run, in order. Unknown names are
// reported and skipped.
func (up *UpdateProcessor) Enable(names ...string) int {
	enabledHandlers := make([]Handler, 0, len(names))
	for _, handlerName := range names {
		handler, ok := up.registered[handlerName]
		if !ok || handler == nil {
			log.Warnf("no registered handler: %s", handlerName)
			continue
		}
		enabledHandlers = append(enabledHandlers, handler)
	}
	up.updateHandlers = enabledHandlers
	return len(enabledHandlers)
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		var updateTime time.Time
		switch {
		case u.Message != nil:
			updateTime = time.Unix(int64(u.Message.Date), 0)
		case u.EditedMessage != nil:
			updateTime = time.Unix(int64(u.EditedMessage.Date), 0)
		default:
			updateTime = time.Now()
		}

		if time.Since(updateTime) > UpdateTimeout {
			log.WithFields(log.Fields{
				"update_time": updateTime,
				"age":         time.Since(updateTime),
			}).Debug("Skipping outdated update")
			return nil
		}

		chat := u.FromChat()
		user := u.SentFrom()

		for _, handler := range up.updateHandlers {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				proceed, err := handler.Handle(ctx, u, chat, user)
				if err != nil {
					return errors.WithMessage(err, "handling error")
				}
				if !proceed {
					log.Trace("not proceeding")
					return nil
				}
			}
		}
		return nil
	}
}

type pollOptions struct {
	retryMin time.Duration
	retryMax time.Duration
}

type PollOption func(*pollOptions)

// WithRetryDelay bounds the wait between failed GetUpdates calls. The wait
// starts at first and doubles up to ceiling.
func WithRetryDelay(first, ceiling time.Duration) PollOption {
	return func(o *pollOptions) {
		o.retryMin = first
		o.retryMax = ceiling
	}
}

// GetUpdatesChans long-polls bot until ctx is done. Failed polls are retried
// with a capped exponential delay, or after the flood-wait Telegram asks for.
// The error channel only ever carries ctx.Err().
func GetUpdatesChans(ctx context.Context, bot UpdatesSource, buffer int, config api.UpdateConfig, opts ...PollOption) (api.UpdatesChannel, chan error) {
	o := pollOptions{retryMin: PollRetryMin, retryMax: PollRetryMax}
	for _, opt := range opts {
		opt(&o)
	}
	ch := make(chan api.Update, buffer)
	chErr := make(chan error, 1)

	go func() {
		defer close(ch)
		defer close(chErr)
		delay := o.retryMin
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
			}

			updates, err := bot.GetUpdates(config)
			if err != nil {
				wait := retryWait(err, delay)
				log.WithField("object", "UpdatePoller").
					WithField("error", err.Error()).
					WithField("retry_in", wait.String()).
					Warn("get updates failed")
				if !sleepCtx(ctx, wait) {
					chErr <- ctx.Err()
					return
				}
				delay = min(delay*2, o.retryMax)
				continue
			}
			delay = o.retryMin

			for _, update := range updates {
				if update.UpdateID >= config.Offset {
					config.Offset = update.UpdateID + 1
					select {
					case ch <- update:
					case <-ctx.Done():
						chErr <- ctx.Err()
						return
					}
				}
			}
		}
	}()

	return ch, chErr
}

func retryWait(err error, fallback time.Duration) time.Duration {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func GetUN(user *api.User) string {
	if user == nil {
		return ""
	}
	userName := user.UserName
	if len(userName) == 0 {
		userName = user.FirstName + " " + user.LastName
		userName = strings.TrimSpace(userName)
	}
	return userName
}

// ExtractContentFromMessage collects the user-authored text of a message:
// text, caption, a few typed payloads and inline button labels.
func ExtractContentFromMessage(msg *api.Message) (content string) {
	if msg == nil {
		return ""
	}
	var markupContent string
	defer func() {
		content = strings.TrimSpace(content)
		markupContent = strings.TrimSpace(markupContent)
		if markupContent != "" {
			content = strings.TrimSpace(content + " " + markupContent)
		}
	}()

	content = strings.TrimSpace(msg.Text + " " + msg.Caption)

	messageType := GetMessageType(msg)
	switch messageType {
	case MessageTypeAudio:
		content += fmt.Sprintf(" [%s] %s", messageType, msg.Audio.Title)
	case MessageTypeContact:
		content += fmt.Sprintf(" [%s] %s", messageType, msg.Contact.PhoneNumber)
	case MessageTypePoll:
		content += fmt.Sprintf(" [%s] %s", messageType, msg.Poll.Question)
	case MessageTypeVenue:
		content += fmt.Sprintf(" [%s] %s %s", messageType, msg.Venue.Title, msg.Venue.Address)
	}

	if msg.ReplyMarkup != nil {
		var buttonTexts []string
		for _, row := range msg.ReplyMarkup.InlineKeyboard {
			for _, button := range row {
				if button.Text != "" {
					buttonTexts = append(buttonTexts, button.Text)
				}
			}
		}
		if len(buttonTexts) > 0 {
			markupContent = strings.Join(buttonTexts, " ")
		}
	}

	return content
}

func GetMessageType(msg *api.Message) MessageType {
	switch {
	case msg.Animation != nil:
		return MessageTypeAnimation
	case msg.Audio != nil:
		return MessageTypeAudio
	case msg.Contact != nil:
		return MessageTypeContact
	case msg.Document != nil:
		return MessageTypeDocument
	case msg.Location != nil:
		return MessageTypeLocation
	case msg.Photo != nil:
		return MessageTypePhoto
	case msg.Poll != nil:
		return MessageTypePoll
	case msg.Sticker != nil:
		return MessageTypeSticker
	case msg.Venue != nil:
		return MessageTypeVenue
	case msg.Video != nil:
		return MessageTypeVideo
	case msg.VideoNote != nil:
		return MessageTypeVideoNote
	case msg.Voice != nil:
		return MessageTypeVoice
	default:
		return MessageTypeText
	}
}
