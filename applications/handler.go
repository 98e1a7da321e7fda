package applications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"gatekeeper/datastructs"
	"gatekeeper/inbox"
	"gatekeeper/messenger"
	"gatekeeper/roles"
)

const DefaultReasonTimeout = 2 * time.Minute

// Guild is the part of platform.Platform the decision paths need.
type Guild interface {
	Member(userID string) (*discordgo.Member, error)
	SetMemberRoles(userID string, roleIDs []string) error
	OpenDirectConversation(userID string) (*discordgo.Channel, error)
	RemoveReaction(channelID, messageID, glyph, userID string) error
}

// Reaction is a reaction-added event reduced to what the handler needs.
type Reaction struct {
	UserID      string
	ChannelID   string
	MessageID   string
	Glyph       string
	Bot         bool
	MemberRoles []string
}

type Config struct {
	WelcomeChannelID string
	// BotIDs are ignored as reactors, on top of Reaction.Bot.
	BotIDs []string
	// ModeratorRoleID, when set, is required to decide applications.
	ModeratorRoleID string
	ReasonTimeout   time.Duration
}

// Handler turns moderator reactions on the review board into decisions.
type Handler struct {
	guild     Guild
	board     *Board
	messenger *messenger.Messenger
	inbox     *inbox.Inbox
	directory *roles.Directory
	claims    Claims
	cfg       Config
	logger    *zap.Logger
}

func NewHandler(guild Guild, board *Board, m *messenger.Messenger, in *inbox.Inbox, dir *roles.Directory, claims Claims, cfg Config, logger *zap.Logger) *Handler {
	if cfg.ReasonTimeout <= 0 {
		cfg.ReasonTimeout = DefaultReasonTimeout
	}
	return &Handler{
		guild:     guild,
		board:     board,
		messenger: m,
		inbox:     in,
		directory: dir,
		claims:    claims,
		cfg:       cfg,
		logger:    logger.Named("approvals"),
	}
}

func (h *Handler) isBot(r Reaction) bool {
	if r.Bot {
		return true
	}
	for _, id := range h.cfg.BotIDs {
		if id == r.UserID {
			return true
		}
	}
	return false
}

func (h *Handler) isModerator(r Reaction) bool {
	if h.cfg.ModeratorRoleID == "" {
		return true
	}
	for _, id := range r.MemberRoles {
		if id == h.cfg.ModeratorRoleID {
			return true
		}
	}
	return false
}

// HandleReaction decides the reacted application. Reactions that are not
// decisions return nil; the returned error is for logging only, the
// affected users have already been told whatever they need to know.
func (h *Handler) HandleReaction(ctx context.Context, r Reaction) error {
	if h.isBot(r) || r.ChannelID != h.board.ChannelID() {
		return nil
	}
	if r.Glyph != AcceptGlyph && r.Glyph != RejectGlyph {
		return nil
	}
	logger := h.logger.With(zap.String("message", r.MessageID), zap.String("moderator", r.UserID))

	if !h.isModerator(r) {
		if err := h.guild.RemoveReaction(r.ChannelID, r.MessageID, r.Glyph, r.UserID); err != nil {
			logger.Warn("failed to remove reaction from non-moderator", zap.Error(err))
		}
		return nil
	}

	ok, err := h.claims.Claim(r.MessageID)
	if err != nil {
		return fmt.Errorf("claim application %s: %w", r.MessageID, err)
	}
	if !ok {
		logger.Debug("application already being decided")
		return nil
	}

	app, err := h.board.Resolve(ctx, r.MessageID)
	if err != nil {
		h.release(logger, r.MessageID)
		logger.Info("reacted post is not a resolvable application", zap.Error(err))
		return err
	}
	logger = logger.With(zap.String("applicant", app.ApplicantID))

	if r.Glyph == AcceptGlyph {
		err = h.accept(ctx, app, logger)
	} else {
		err = h.reject(ctx, app, r.UserID, logger)
	}
	if err != nil {
		h.release(logger, r.MessageID)
	}
	return err
}

func (h *Handler) release(logger *zap.Logger, messageID string) {
	if err := h.claims.Release(messageID); err != nil {
		logger.Warn("failed to release application claim", zap.Error(err))
	}
}

// accept grants membership. Once the role is set the decision stands:
// a failed notice, deletion or announcement is logged and the remaining
// steps still run.
func (h *Handler) accept(ctx context.Context, app datastructs.PendingApplication, logger *zap.Logger) error {
	member, err := h.guild.Member(app.ApplicantID)
	if err != nil {
		logger.Warn("applicant is no longer a member", zap.Error(err))
		return fmt.Errorf("look up applicant: %w", err)
	}

	memberRole := []string{h.directory.RoleID(roles.Member)}
	if err := h.guild.SetMemberRoles(app.ApplicantID, memberRole); err != nil {
		logger.Error("granting member role failed", zap.Error(err))
		return fmt.Errorf("grant member role: %w", err)
	}
	h.directory.Update(app.ApplicantID, member.Roles, memberRole)
	app.State = datastructs.Accepted

	if err := h.direct(ctx, app.ApplicantID, acceptedNotice); err != nil {
		logger.Error("applicant accepted but could not be notified", zap.Error(err))
	}
	h.board.Remove(ctx, app)
	if h.cfg.WelcomeChannelID != "" {
		if _, err := h.messenger.SendEmbed(ctx, h.cfg.WelcomeChannelID, Announcement(app.ApplicantID)); err != nil {
			logger.Warn("failed to post welcome announcement", zap.Error(err))
		}
	}
	logger.Info("application accepted")
	return nil
}

// reject asks the moderator for a reason and relays it. Without a reason
// in time nothing changes for the applicant and the post stays up.
func (h *Handler) reject(ctx context.Context, app datastructs.PendingApplication, moderatorID string, logger *zap.Logger) error {
	dm, err := h.guild.OpenDirectConversation(moderatorID)
	if err != nil {
		logger.Warn("cannot open direct conversation with moderator", zap.Error(err))
		return err
	}

	box, err := h.inbox.Open(moderatorID, dm.ID)
	if errors.Is(err, inbox.ErrBusy) {
		if _, serr := h.messenger.Send(ctx, dm.ID, reasonBusy); serr != nil {
			logger.Warn("failed to tell moderator about open reason prompt", zap.Error(serr))
		}
		return err
	}
	if err != nil {
		return err
	}
	defer box.Close()

	if _, err := h.messenger.Send(ctx, dm.ID, reasonPrompt(h.cfg.ReasonTimeout)); err != nil {
		logger.Warn("failed to ask moderator for a reason", zap.Error(err))
		return err
	}

	msg, err := box.Next(ctx, h.cfg.ReasonTimeout)
	if errors.Is(err, inbox.ErrTimeout) {
		if _, serr := h.messenger.Send(ctx, dm.ID, reasonTimeUp(h.cfg.ReasonTimeout)); serr != nil {
			logger.Warn("failed to tell moderator the reason prompt expired", zap.Error(serr))
		}
		logger.Info("rejection abandoned, no reason given")
		return err
	}
	if err != nil {
		return err
	}
	app.State = datastructs.Rejected

	if err := h.direct(ctx, app.ApplicantID, deniedNotice(msg.Content)); err != nil {
		logger.Warn("applicant rejected but could not be notified", zap.Error(err))
		if _, serr := h.messenger.Send(ctx, dm.ID, undeliveredNotice(app.ApplicantID)); serr != nil {
			logger.Warn("failed to tell moderator about undelivered rejection", zap.Error(serr))
		}
	}
	h.board.Remove(ctx, app)
	logger.Info("application rejected")
	return nil
}

func (h *Handler) direct(ctx context.Context, userID, content string) error {
	dm, err := h.guild.OpenDirectConversation(userID)
	if err != nil {
		return err
	}
	_, err = h.messenger.Send(ctx, dm.ID, content)
	return err
}
