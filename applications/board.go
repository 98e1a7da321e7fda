package applications

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"gatekeeper/datastructs"
	"gatekeeper/messenger"
	"gatekeeper/platform"
	"gatekeeper/utils"
)

// historyLimit is how many recent review posts are scanned when checking
// for an unresolved application.
const historyLimit = 100

// ReviewSurface is the part of platform.Platform the board needs.
type ReviewSurface interface {
	FetchMessage(channelID, messageID string) (*discordgo.Message, error)
	RecentMessages(channelID string, limit int) ([]*discordgo.Message, error)
	DeleteMessage(channelID, messageID string) error
	AddReaction(channelID, messageID, glyph string) error
}

// Board is the review channel where applications wait for a decision.
type Board struct {
	surface   ReviewSurface
	messenger *messenger.Messenger
	channelID string
	logger    *zap.Logger
}

func NewBoard(surface ReviewSurface, m *messenger.Messenger, channelID string, logger *zap.Logger) *Board {
	return &Board{surface: surface, messenger: m, channelID: channelID, logger: logger.Named("board")}
}

func (b *Board) ChannelID() string { return b.channelID }

// Submit posts the application and attaches the two decision reactions.
// A reaction that cannot be added is logged; moderators can still add it
// by hand.
func (b *Board) Submit(ctx context.Context, app datastructs.Application) (datastructs.PendingApplication, error) {
	msg, err := b.messenger.SendEmbed(ctx, b.channelID, Render(app))
	if err != nil {
		return datastructs.PendingApplication{}, fmt.Errorf("post application: %w", err)
	}
	for _, glyph := range []string{AcceptGlyph, RejectGlyph} {
		if err := b.surface.AddReaction(b.channelID, msg.ID, glyph); err != nil {
			b.logger.Warn("failed to add decision reaction",
				zap.String("message", msg.ID), zap.String("glyph", glyph), zap.Error(err))
		}
	}
	return datastructs.PendingApplication{
		ChannelID:   b.channelID,
		MessageID:   msg.ID,
		ApplicantID: app.ApplicantID,
		State:       datastructs.PendingDecision,
	}, nil
}

// HasPending reports whether a recent review post mentions userID.
func (b *Board) HasPending(ctx context.Context, userID string) (bool, error) {
	msgs, err := b.surface.RecentMessages(b.channelID, historyLimit)
	if err != nil {
		return false, fmt.Errorf("fetch review history: %w", err)
	}
	for _, msg := range msgs {
		for _, e := range msg.Embeds {
			if e != nil && utils.Mentions(e.Description, userID) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Resolve loads a review post and the applicant it is about. Both a
// missing post and a post without a mention wrap platform.ErrNotFound.
func (b *Board) Resolve(ctx context.Context, messageID string) (datastructs.PendingApplication, error) {
	msg, err := b.surface.FetchMessage(b.channelID, messageID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return datastructs.PendingApplication{}, fmt.Errorf("application %s: %w", messageID, err)
		}
		return datastructs.PendingApplication{}, fmt.Errorf("fetch application %s: %w", messageID, err)
	}
	applicant := applicantOf(msg)
	if applicant == "" {
		return datastructs.PendingApplication{}, fmt.Errorf("application %s has no applicant mention: %w", messageID, platform.ErrNotFound)
	}
	return datastructs.PendingApplication{
		ChannelID:   b.channelID,
		MessageID:   messageID,
		ApplicantID: applicant,
		State:       datastructs.PendingDecision,
	}, nil
}

// Remove deletes a decided post. Failures are logged and swallowed: the
// decision already stands.
func (b *Board) Remove(ctx context.Context, p datastructs.PendingApplication) {
	if err := b.surface.DeleteMessage(p.ChannelID, p.MessageID); err != nil {
		b.logger.Warn("failed to delete application post",
			zap.String("message", p.MessageID), zap.Error(err))
	}
}
