package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"streambot/internal/adapters/telegram"
	"streambot/internal/config"
	"streambot/internal/expiry"
	"streambot/internal/storage"
	logx "streambot/pkg/logx"
)

// Rights is the slice of the telegram adapter the command layer needs.
// Kept small so tests can fake it.
type Rights interface {
	// CheckMember returns telegram.ErrMemberNotFound when userID is not in
	// the moderated group.
	CheckMember(ctx context.Context, userID int64) error
	HasVideo(ctx context.Context, userID int64) (bool, error)
	GrantVideo(ctx context.Context, userID int64) error
	RevokeVideo(ctx context.Context, userID int64) error
	UserIDByUsername(ctx context.Context, username string) (int64, error)
}

// Commands implements the moderator-facing grant commands.
type Commands struct {
	log    logx.Logger
	rights Rights
	sched  *expiry.Scheduler
	store  storage.Store
	cfg    func() *config.Config
	now    func() time.Time
}

func NewCommands(log logx.Logger, rights Rights, sched *expiry.Scheduler, store storage.Store, cfg func() *config.Config) *Commands {
	return &Commands{
		log:    log,
		rights: rights,
		sched:  sched,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
	}
}

// RevokeAction builds the deferred revocation bound to userID. Shared by the
// live commands and reconciliation.
func (c *Commands) RevokeAction(userID int64) expiry.Action {
	return func(ctx context.Context) error {
		if err := c.rights.RevokeVideo(ctx, userID); err != nil {
			return err
		}
		c.log.Info("temporary video permission expired", logx.Int64("user_id", userID))
		return nil
	}
}

// Resolve implements expiry.Resolver for startup reconciliation.
func (c *Commands) Resolve(ctx context.Context, userID int64) (expiry.Action, error) {
	if err := c.rights.CheckMember(ctx, userID); err != nil {
		if errors.Is(err, telegram.ErrMemberNotFound) {
			return nil, expiry.ErrNotFound
		}
		return nil, err
	}
	return c.RevokeAction(userID), nil
}

// Stream handles /stream <user> [expiry]: grant now, revoke automatically.
func (c *Commands) Stream(ctx context.Context, m telegram.Message) (string, error) {
	if !c.isModerator(m.FromID) {
		return "", nil
	}
	userID, rest, err := c.target(ctx, m)
	if err != nil {
		return usageStream, nil
	}

	cfg := c.cfg()
	defDur, err := parseDurationOrDefault("video.default_duration", cfg.Video.DefaultDuration, time.Hour)
	if err != nil {
		return "", err
	}
	maxDur, err := parseDurationField("video.max_duration", cfg.Video.MaxDuration)
	if err != nil {
		return "", err
	}

	now := c.now()
	until := now.Add(defDur)
	if rest != "" {
		until, err = ParseExpiry(rest, now)
		if err != nil {
			return fmt.Sprintf("Cannot parse expiry %q. Use something like 2h, 3d, 1w or an RFC 3339 time.", rest), nil
		}
	}
	if maxDur > 0 && until.After(now.Add(maxDur)) {
		until = now.Add(maxDur)
	}

	already, err := c.rights.HasVideo(ctx, userID)
	if err != nil {
		if errors.Is(err, telegram.ErrMemberNotFound) {
			return "That user is not a member of this group.", nil
		}
		return "", fmt.Errorf("check video permission: %w", err)
	}
	if already {
		return fmt.Sprintf("User %d can already stream.", userID), nil
	}

	// Persist and arm before granting, so a crash in between leaves only a
	// harmless pending revocation for a permission never handed out.
	if err := c.sched.Arm(ctx, userID, until, c.RevokeAction(userID)); err != nil {
		return "", fmt.Errorf("arm revocation: %w", err)
	}
	if err := c.rights.GrantVideo(ctx, userID); err != nil {
		if ferr := c.sched.CancelAndForget(ctx, userID); ferr != nil {
			c.log.Warn("failed to roll back armed revocation",
				logx.Int64("user_id", userID), logx.Err(ferr))
		}
		return "", fmt.Errorf("grant video permission: %w", err)
	}

	c.log.Info("temporary video permission granted",
		logx.Int64("user_id", userID),
		logx.Int64("by", m.FromID),
		logx.Time("until", until))
	return fmt.Sprintf("User %d can now stream until %s.", userID, formatTime(until)), nil
}

// PermanentStream handles /pstream <user>: grant with no expiry, upgrading a
// pending temporary grant when one exists.
func (c *Commands) PermanentStream(ctx context.Context, m telegram.Message) (string, error) {
	if !c.isModerator(m.FromID) {
		return "", nil
	}
	userID, _, err := c.target(ctx, m)
	if err != nil {
		return usagePStream, nil
	}

	already, err := c.rights.HasVideo(ctx, userID)
	if err != nil {
		if errors.Is(err, telegram.ErrMemberNotFound) {
			return "That user is not a member of this group.", nil
		}
		return "", fmt.Errorf("check video permission: %w", err)
	}
	if already {
		if c.sched.Cancel(userID) {
			if err := c.store.Delete(ctx, userID); err != nil {
				return "", fmt.Errorf("delete grant record: %w", err)
			}
			c.log.Info("temporary grant upgraded to permanent",
				logx.Int64("user_id", userID), logx.Int64("by", m.FromID))
			return fmt.Sprintf("Changed user %d's temporary permission to permanent.", userID), nil
		}
		return fmt.Sprintf("User %d can already stream.", userID), nil
	}

	if err := c.rights.GrantVideo(ctx, userID); err != nil {
		return "", fmt.Errorf("grant video permission: %w", err)
	}
	c.log.Info("permanent video permission granted",
		logx.Int64("user_id", userID), logx.Int64("by", m.FromID))
	return fmt.Sprintf("User %d can now stream permanently.", userID), nil
}

// Unstream handles /unstream <user>: revoke immediately, whether the grant
// was temporary or permanent.
func (c *Commands) Unstream(ctx context.Context, m telegram.Message) (string, error) {
	if !c.isModerator(m.FromID) {
		return "", nil
	}
	userID, _, err := c.target(ctx, m)
	if err != nil {
		return usageUnstream, nil
	}

	wasPending := c.sched.IsPending(userID)
	if wasPending {
		if err := c.sched.CancelAndForget(ctx, userID); err != nil {
			return "", fmt.Errorf("cancel pending revocation: %w", err)
		}
	}

	has, err := c.rights.HasVideo(ctx, userID)
	if err != nil {
		if errors.Is(err, telegram.ErrMemberNotFound) {
			return "That user is not a member of this group.", nil
		}
		return "", fmt.Errorf("check video permission: %w", err)
	}
	if !has && !wasPending {
		return fmt.Sprintf("User %d does not have streaming permission.", userID), nil
	}
	if has {
		if err := c.rights.RevokeVideo(ctx, userID); err != nil {
			return "", fmt.Errorf("revoke video permission: %w", err)
		}
	}

	c.log.Info("video permission revoked",
		logx.Int64("user_id", userID), logx.Int64("by", m.FromID))
	return fmt.Sprintf("Revoked user %d's streaming permission.", userID), nil
}

const (
	usageStream   = "Usage: /stream <user id or @username> [expiry], or reply to the user."
	usagePStream  = "Usage: /pstream <user id or @username>, or reply to the user."
	usageUnstream = "Usage: /unstream <user id or @username>, or reply to the user."
)

func (c *Commands) isModerator(userID int64) bool {
	for _, id := range c.cfg().Telegram.ModeratorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// target picks the subject of a command: the replied-to user, or the first
// payload token (numeric ID or @username). Returns the remaining payload.
func (c *Commands) target(ctx context.Context, m telegram.Message) (int64, string, error) {
	if m.ReplyToUserID != 0 {
		return m.ReplyToUserID, strings.TrimSpace(m.Payload), nil
	}
	fields := strings.Fields(m.Payload)
	if len(fields) == 0 {
		return 0, "", errors.New("no target user")
	}
	rest := strings.TrimSpace(strings.TrimPrefix(m.Payload, fields[0]))
	if id, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
		return id, rest, nil
	}
	if strings.HasPrefix(fields[0], "@") {
		id, err := c.rights.UserIDByUsername(ctx, fields[0])
		if err != nil {
			return 0, "", fmt.Errorf("resolve %s: %w", fields[0], err)
		}
		return id, rest, nil
	}
	return 0, "", fmt.Errorf("cannot parse target %q", fields[0])
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04 MST")
}
