package moderation

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iamwavecut/ngguard/internal/db"
)

var tracer = otel.Tracer("github.com/iamwavecut/ngguard/internal/moderation")

type (
	Journal interface {
		AddSanction(ctx context.Context, sanction *db.Sanction) error
	}

	Message struct {
		Key       Key
		MessageID int
		Sender    string
		// At overrides the engine clock when set.
		At time.Time
	}

	Deps struct {
		Gateway   Gateway
		Notifier  Notifier
		Journal   Journal
		Scheduler *Scheduler
		Clock     Clock
	}

	// Engine is the per-(chat, user) flood moderation state machine. It is the
	// only writer of moderation state; every operation on a key runs under
	// that key's lock, different keys never contend.
	Engine struct {
		policy    Policy
		clock     Clock
		gateway   Gateway
		notifier  Notifier
		journal   Journal
		scheduler *Scheduler
		store     *store
		muteSeq   atomic.Uint64
	}

	restoreKind int

	muteRequest struct {
		// level is the member's current privilege level, nil when it could
		// not be read.
		level    *int
		now      time.Time
		duration time.Duration
		reason   string
		offense  int
		replyTo  int
		action   db.SanctionAction
	}
)

const (
	restoreLazy restoreKind = iota
	restoreScheduled
	restoreManual
)

func NewEngine(policy Policy, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = NewScheduler(clock)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Engine{
		policy:    normalizePolicy(policy),
		clock:     clock,
		gateway:   deps.Gateway,
		notifier:  notifier,
		journal:   deps.Journal,
		scheduler: scheduler,
		store:     newStore(),
	}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// OnMessage classifies one inbound message and applies any sanction it
// triggers. It reports true when the message was handled by moderation and
// must not be processed further.
func (e *Engine) OnMessage(ctx context.Context, msg Message) bool {
	ctx, span := tracer.Start(ctx, "moderation.OnMessage")
	span.SetAttributes(
		attribute.Int64("chat_id", msg.Key.ChatID),
		attribute.Int64("user_id", msg.Key.UserID),
	)
	started := time.Now()
	result := "passed"
	defer func() {
		messagesProcessed.WithLabelValues(result).Inc()
		messageProcessDuration.Observe(time.Since(started).Seconds())
		span.SetAttributes(attribute.String("moderation.result", result))
		span.End()
	}()

	now := msg.At
	if now.IsZero() {
		now = e.clock.Now()
	}
	entry := e.getLogEntry().WithFields(msg.Key.Fields()).WithField("method", "OnMessage")

	sub := e.store.acquire(msg.Key)
	defer sub.mu.Unlock()
	if msg.Sender != "" {
		sub.name = msg.Sender
	}

	if rec := sub.mute; rec != nil {
		if rec.Active(now) {
			e.enforceMute(ctx, entry, msg, rec)
			result = "muted"
			return true
		}
		entry.WithField("until", rec.Until).Debug("mute expired before its timer fired, restoring")
		_ = e.restoreLocked(ctx, msg.Key, sub, restoreLazy)
	}

	if sub.decay(now, e.policy.OffenseDecay) {
		entry.Debug("offense counter decayed")
	}

	count := sub.observe(now, e.policy.SpamInterval)
	if count < e.policy.WarningThreshold {
		return false
	}

	level, known := e.privilegeLevel(ctx, entry, msg.Key)
	if known && level >= LevelExempt {
		entry.WithField("level", level).Debug("exempt from flood control")
		sub.resetWindow()
		result = "exempt"
		return false
	}
	var levelRef *int
	if known {
		levelRef = &level
	}

	if !sub.warnedWithin(now, e.policy.WarningCooldown) {
		sub.lastWarning = now
		e.warnLocked(ctx, msg.Key, sub, msg.MessageID, count)
		result = "warned"
		return false
	}

	sub.offenses++
	sub.lastOffense = now
	sanction := e.policy.Sanction(sub.offenses)
	entry.WithFields(log.Fields{
		"offense": sanction.Offense,
		"ban":     sanction.Ban,
		"count":   count,
	}).Info("escalating")

	if sanction.Ban {
		e.banLocked(ctx, msg.Key, sub, sanction, msg.MessageID)
		result = "banned"
		return true
	}

	e.muteLocked(ctx, msg.Key, sub, muteRequest{
		level:    levelRef,
		now:      now,
		duration: sanction.Duration,
		reason:   sanction.Reason,
		offense:  sanction.Offense,
		replyTo:  msg.MessageID,
		action:   db.SanctionMute,
	})
	result = "escalated"
	return true
}

// Restore lifts an expired mute. It does nothing when the key has no mute or
// the mute is still running, so duplicate and stale triggers are harmless.
func (e *Engine) Restore(ctx context.Context, key Key, now time.Time) bool {
	sub, ok := e.store.lookup(key)
	if !ok {
		return false
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.mute == nil || sub.mute.Active(now) {
		return false
	}
	_ = e.restoreLocked(ctx, key, sub, restoreScheduled)
	return true
}

// Unmute restores the user's privileges right away, whether or not a mute is
// recorded, and drops any pending restoration.
func (e *Engine) Unmute(ctx context.Context, key Key) error {
	sub := e.store.acquire(key)
	defer sub.mu.Unlock()

	if err := e.restoreLocked(ctx, key, sub, restoreManual); err != nil {
		return fmt.Errorf("restore privileges: %w", err)
	}
	return nil
}

// ForceMute mutes key for d, bypassing offense escalation.
func (e *Engine) ForceMute(ctx context.Context, key Key, d time.Duration, reason string) (MuteMode, error) {
	if d <= 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidDuration, d)
	}
	if reason == "" {
		reason = "Manual forcemute"
	}

	sub := e.store.acquire(key)
	defer sub.mu.Unlock()

	entry := e.getLogEntry().WithFields(key.Fields()).WithField("method", "ForceMute")
	level, known := e.privilegeLevel(ctx, entry, key)
	if known && level >= LevelExempt {
		return "", fmt.Errorf("%w: level %d", ErrExemptSubject, level)
	}
	var levelRef *int
	if known {
		levelRef = &level
	}

	mode := e.muteLocked(ctx, key, sub, muteRequest{
		level:    levelRef,
		now:      e.clock.Now(),
		duration: d,
		reason:   reason,
		offense:  sub.offenses,
		action:   db.SanctionForceMute,
	})
	return mode, nil
}

// Forgive resets the offense counter of key and returns its previous value.
func (e *Engine) Forgive(ctx context.Context, key Key) int {
	sub := e.store.acquire(key)
	defer sub.mu.Unlock()

	previous := sub.offenses
	sub.offenses = 0
	sub.lastOffense = time.Time{}
	if previous > 0 {
		e.record(ctx, e.getLogEntry().WithFields(key.Fields()), &db.Sanction{
			ChatID:  key.ChatID,
			UserID:  key.UserID,
			Action:  db.SanctionForgive,
			Offense: previous,
		})
	}
	return previous
}

// Subjects reports how many keys the engine currently tracks.
func (e *Engine) Subjects() int {
	return e.store.size()
}

// Sweep forgets keys that carry no state worth keeping at now: no mute, no
// offenses after decay, no message inside the spam interval and no warning
// inside its cooldown. A forgotten key starts from scratch on its next
// message. Returns the number of keys dropped.
func (e *Engine) Sweep(now time.Time) int {
	evicted := 0
	e.store.each(func(key Key, sub *subject) {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.evicted || sub.mute != nil {
			return
		}
		sub.decay(now, e.policy.OffenseDecay)
		sub.prune(now, e.policy.SpamInterval)
		if sub.offenses > 0 || len(sub.window) > 0 || sub.warnedWithin(now, e.policy.WarningCooldown) {
			return
		}
		e.store.evict(key, sub)
		evicted++
	})
	trackedSubjects.Set(float64(e.store.size()))
	return evicted
}

func (e *Engine) Status(key Key) Snapshot {
	sub, ok := e.store.lookup(key)
	if !ok {
		return Snapshot{Key: key}
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.snapshot(key)
}

func (e *Engine) enforceMute(ctx context.Context, entry *log.Entry, msg Message, rec *MuteRecord) {
	if rec.Mode != MuteModeFallbackDelete || msg.MessageID == 0 {
		return
	}
	gctx, cancel := e.gatewayContext(ctx)
	defer cancel()
	if err := e.gateway.DeleteMessage(gctx, msg.Key.ChatID, msg.MessageID, "Muted: deleted instantly"); err != nil {
		gatewayFailures.WithLabelValues("delete_message").Inc()
		entry.WithField("error", err.Error()).Warn("failed to delete message from muted user")
	}
}

func (e *Engine) warnLocked(ctx context.Context, key Key, sub *subject, replyTo int, count int) {
	entry := e.getLogEntry().WithFields(key.Fields()).WithField("count", count)
	entry.Info("issuing warning")

	sanctionsIssued.WithLabelValues(string(db.SanctionWarn), "").Inc()
	e.notify(ctx, entry, Notice{
		Kind:    NoticeWarning,
		Key:     key,
		Subject: sub.displayName(key),
		ReplyTo: replyTo,
	})
	e.record(ctx, entry, &db.Sanction{
		ChatID:  key.ChatID,
		UserID:  key.UserID,
		Action:  db.SanctionWarn,
		Offense: sub.offenses,
	})
}

func (e *Engine) muteLocked(ctx context.Context, key Key, sub *subject, req muteRequest) MuteMode {
	entry := e.getLogEntry().WithFields(key.Fields()).WithFields(log.Fields{
		"method":   "mute",
		"duration": req.duration.String(),
	})
	sub.resetWindow()

	var previous *int
	if sub.mute != nil {
		previous = sub.mute.PreviousLevel
		e.cancelTicket(sub.mute)
	}
	if previous == nil && req.level != nil && *req.level > LevelMuted {
		previous = req.level
	}

	until := req.now.Add(req.duration)
	mode := MuteModeDowngrade
	gctx, cancel := e.gatewayContext(ctx)
	err := e.gateway.SetPrivilegeLevel(gctx, key, LevelMuted, until)
	cancel()
	if err != nil {
		gatewayFailures.WithLabelValues("set_level").Inc()
		entry.WithField("error", err.Error()).Warn("cant downgrade privileges, falling back to deleting messages")
		mode = MuteModeFallbackDelete
	}

	rec := &MuteRecord{
		ID:            e.muteSeq.Add(1),
		Until:         until,
		Mode:          mode,
		PreviousLevel: previous,
		Reason:        req.reason,
	}
	rec.ticket = e.scheduler.Schedule(key, rec.Until, e.fire)
	sub.mute = rec

	entry.WithFields(log.Fields{
		"mode":  mode,
		"until": rec.Until,
	}).Info("muted")

	sanctionsIssued.WithLabelValues(string(req.action), string(mode)).Inc()
	e.notify(ctx, entry, Notice{
		Kind:     NoticeMuted,
		Key:      key,
		Subject:  sub.displayName(key),
		ReplyTo:  req.replyTo,
		Duration: req.duration,
		Reason:   req.reason,
		Mode:     mode,
		Failed:   mode == MuteModeFallbackDelete,
	})
	e.record(ctx, entry, &db.Sanction{
		ChatID:     key.ChatID,
		UserID:     key.UserID,
		Action:     req.action,
		Offense:    req.offense,
		DurationNS: req.duration.Nanoseconds(),
		Mode:       string(mode),
		Reason:     req.reason,
		Failed:     mode == MuteModeFallbackDelete,
	})
	return mode
}

func (e *Engine) banLocked(ctx context.Context, key Key, sub *subject, sanction Sanction, replyTo int) {
	entry := e.getLogEntry().WithFields(key.Fields()).WithField("method", "ban")

	gctx, cancel := e.gatewayContext(ctx)
	err := e.gateway.RemoveUser(gctx, key, sanction.Reason)
	cancel()
	if err != nil {
		gatewayFailures.WithLabelValues("remove_user").Inc()
		entry.WithField("error", err.Error()).Error("failed to ban user")
	}

	if sub.mute != nil {
		e.cancelTicket(sub.mute)
		sub.mute = nil
	}
	sub.offenses = 0
	sub.lastOffense = time.Time{}
	sub.resetWindow()

	sanctionsIssued.WithLabelValues(string(db.SanctionBan), "").Inc()
	e.notify(ctx, entry, Notice{
		Kind:    NoticeBanned,
		Key:     key,
		Subject: sub.displayName(key),
		ReplyTo: replyTo,
		Reason:  sanction.Reason,
		Failed:  err != nil,
	})
	e.record(ctx, entry, &db.Sanction{
		ChatID:  key.ChatID,
		UserID:  key.UserID,
		Action:  db.SanctionBan,
		Offense: sanction.Offense,
		Reason:  sanction.Reason,
		Failed:  err != nil,
	})
}

// restoreLocked resets privileges to the captured level, else the room
// default, else LevelFloor, and clears the mute and the message window. Local
// state is cleared even when the gateway call fails.
func (e *Engine) restoreLocked(ctx context.Context, key Key, sub *subject, kind restoreKind) error {
	entry := e.getLogEntry().WithFields(key.Fields()).WithField("method", "restore")

	var previous *int
	if rec := sub.mute; rec != nil {
		e.cancelTicket(rec)
		previous = rec.PreviousLevel
	}
	level := e.restorationLevel(ctx, entry, key, previous)

	gctx, cancel := e.gatewayContext(ctx)
	err := e.gateway.SetPrivilegeLevel(gctx, key, level, time.Time{})
	cancel()
	if err != nil {
		gatewayFailures.WithLabelValues("restore_level").Inc()
		entry.WithField("error", err.Error()).Error("failed to restore privileges")
	}

	sub.mute = nil
	sub.resetWindow()

	noticeKind, action := NoticeUnmutedAuto, db.SanctionUnmuteAuto
	if kind == restoreManual {
		noticeKind, action = NoticeUnmutedManual, db.SanctionUnmuteManual
	}
	entry.WithField("level", level).Info("unmuted")

	sanctionsIssued.WithLabelValues(string(action), "").Inc()
	e.notify(ctx, entry, Notice{
		Kind:    noticeKind,
		Key:     key,
		Subject: sub.displayName(key),
		Failed:  err != nil,
	})
	e.record(ctx, entry, &db.Sanction{
		ChatID: key.ChatID,
		UserID: key.UserID,
		Action: action,
		Failed: err != nil,
	})
	return err
}

// privilegeLevel reads the current level of key. known is false when the
// gateway could not answer.
func (e *Engine) privilegeLevel(ctx context.Context, entry *log.Entry, key Key) (level int, known bool) {
	gctx, cancel := e.gatewayContext(ctx)
	defer cancel()
	level, err := e.gateway.GetPrivilegeLevel(gctx, key)
	if err != nil {
		gatewayFailures.WithLabelValues("get_level").Inc()
		entry.WithField("error", err.Error()).Warn("cant read privilege level")
		return 0, false
	}
	return level, true
}

func (e *Engine) restorationLevel(ctx context.Context, entry *log.Entry, key Key, previous *int) int {
	if previous != nil {
		return *previous
	}
	gctx, cancel := e.gatewayContext(ctx)
	defer cancel()
	level, err := e.gateway.DefaultPrivilegeLevel(gctx, key.ChatID)
	if err != nil {
		gatewayFailures.WithLabelValues("default_level").Inc()
		entry.WithField("error", err.Error()).Debug("no room default level, using floor")
		return LevelFloor
	}
	if level <= LevelMuted {
		return LevelFloor
	}
	return level
}

// fire is the scheduler callback of a mute's ticket.
func (e *Engine) fire(ctx context.Context, t *Ticket) {
	key := t.Key()
	sub := e.store.acquire(key)
	defer sub.mu.Unlock()

	e.scheduler.release(t)
	if t.Cancelled() {
		return
	}
	rec := sub.mute
	if rec == nil || rec.ticket != t {
		return
	}
	if rec.Active(e.clock.Now()) {
		rec.ticket = e.scheduler.Schedule(key, rec.Until, e.fire)
		return
	}
	_ = e.restoreLocked(ctx, key, sub, restoreScheduled)
}

func (e *Engine) cancelTicket(rec *MuteRecord) {
	if rec.ticket == nil {
		return
	}
	rec.ticket.Cancel()
	e.scheduler.release(rec.ticket)
}

func (e *Engine) notify(ctx context.Context, entry *log.Entry, notice Notice) {
	gctx, cancel := e.gatewayContext(ctx)
	defer cancel()
	if err := e.notifier.Notify(gctx, notice); err != nil {
		entry.WithField("error", err.Error()).WithField("notice", notice.Kind).Warn("failed to send notice")
	}
}

func (e *Engine) record(ctx context.Context, entry *log.Entry, sanction *db.Sanction) {
	if e.journal == nil {
		return
	}
	if sanction.CreatedAt.IsZero() {
		sanction.CreatedAt = e.clock.Now()
	}
	if err := e.journal.AddSanction(ctx, sanction); err != nil {
		entry.WithField("error", err.Error()).Warn("failed to journal sanction")
	}
}

func (e *Engine) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.policy.GatewayTimeout)
}

func (e *Engine) getLogEntry() *log.Entry {
	return log.WithField("object", "ModerationEngine")
}

func (sub *subject) displayName(key Key) string {
	if sub.name != "" {
		return sub.name
	}
	return strconv.FormatInt(key.UserID, 10)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notice) error {
	return nil
}
