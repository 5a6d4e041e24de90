package telegram

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	logx "streambot/pkg/logx"
)

// Member looks up userID in the moderated group. Returns ErrMemberNotFound
// when the user left (or was never there); other failures are transient.
func (a *Adapter) Member(ctx context.Context, userID int64) (*tele.ChatMember, error) {
	_ = ctx // telebot's HTTP client carries its own timeouts
	member, err := a.bot.ChatMemberOf(&tele.Chat{ID: a.cfg.ChatID}, &tele.User{ID: userID})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("chat member lookup: %w", err)
	}
	if member.Role == tele.Left || member.Role == tele.Kicked {
		return nil, ErrMemberNotFound
	}
	return member, nil
}

// CheckMember reports whether userID is a current member of the group.
func (a *Adapter) CheckMember(ctx context.Context, userID int64) error {
	_, err := a.Member(ctx, userID)
	return err
}

// UserIDByUsername resolves "@name" to a user ID. The Bot API only resolves
// usernames of chats the bot has seen, so this is best effort.
func (a *Adapter) UserIDByUsername(ctx context.Context, username string) (int64, error) {
	_ = ctx
	chat, err := a.bot.ChatByUsername(username)
	if err != nil {
		if isNotFound(err) {
			return 0, ErrMemberNotFound
		}
		return 0, fmt.Errorf("resolve username: %w", err)
	}
	return chat.ID, nil
}

// HasVideo reports whether the member can currently send video.
// Admins and the owner always can.
func (a *Adapter) HasVideo(ctx context.Context, userID int64) (bool, error) {
	member, err := a.Member(ctx, userID)
	if err != nil {
		return false, err
	}
	switch member.Role {
	case tele.Creator, tele.Administrator:
		return true, nil
	case tele.Restricted:
		return member.Rights.CanSendVideos, nil
	default:
		// Unrestricted regular members follow the group defaults, which deny
		// video in the moderated group.
		return false, nil
	}
}

// GrantVideo allows userID to send video and video notes in the group.
func (a *Adapter) GrantVideo(ctx context.Context, userID int64) error {
	return a.setVideoRights(ctx, userID, true)
}

// RevokeVideo removes the video permission again. This is the capability
// action armed on every temporary grant.
func (a *Adapter) RevokeVideo(ctx context.Context, userID int64) error {
	return a.setVideoRights(ctx, userID, false)
}

func (a *Adapter) setVideoRights(ctx context.Context, userID int64, allow bool) error {
	member, err := a.Member(ctx, userID)
	if err != nil {
		return err
	}
	switch member.Role {
	case tele.Creator, tele.Administrator:
		return fmt.Errorf("cannot restrict %s of the group", member.Role)
	}

	rights := member.Rights
	if member.Role != tele.Restricted {
		// Regular members have no explicit rights yet; start from the group
		// baseline (messaging allowed, media following the grant).
		rights = tele.Rights{
			CanSendMessages: true,
			CanSendPhotos:   true,
			CanSendAudios:   true,
			CanSendOther:    true,
			CanAddPreviews:  true,
		}
	}
	rights.CanSendVideos = allow
	rights.CanSendVideoNotes = allow

	member.Rights = rights
	if err := a.bot.Restrict(&tele.Chat{ID: a.cfg.ChatID}, member); err != nil {
		return fmt.Errorf("restrict member: %w", err)
	}
	a.log.Debug("video rights updated",
		logx.Int64("user_id", userID),
		logx.Bool("allow", allow))
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "participant_id_invalid") ||
		strings.Contains(msg, "user is not a member")
}
