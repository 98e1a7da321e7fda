// Package router turns gateway events into calls on the verification
// components.
//
// Handlers return quickly. Anything that waits on a person or on the
// REST API runs in a tracked goroutine, so one stuck flow never holds up
// the events behind it.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"gatekeeper/applications"
	"gatekeeper/inbox"
	"gatekeeper/messenger"
	"gatekeeper/platform"
	"gatekeeper/roles"
	"gatekeeper/utils"
)

const (
	verifyCommand = "/verify"
	roleCommand   = "/role "
)

// selfService lists the roles members may grant themselves.
var selfService = map[string]roles.Name{
	"hidden": roles.Hidden,
	"artist": roles.Artist,
}

type Guild interface {
	DeleteMessage(channelID, messageID string) error
	Member(userID string) (*discordgo.Member, error)
	SetMemberRoles(userID string, roleIDs []string) error
	OpenDirectConversation(userID string) (*discordgo.Channel, error)
}

type Verifier interface {
	Verify(ctx context.Context, userID string) error
}

type ReactionHandler interface {
	HandleReaction(ctx context.Context, r applications.Reaction) error
}

type Config struct {
	GuildID         string
	IntakeChannelID string
}

type Router struct {
	// ctx bounds every flow the router starts; it is the process lifetime.
	ctx       context.Context
	guild     Guild
	messenger *messenger.Messenger
	inbox     *inbox.Inbox
	verifier  Verifier
	reactions ReactionHandler
	dir       *roles.Directory
	cfg       Config
	logger    *zap.Logger

	mu     sync.Mutex
	selfID string

	wg sync.WaitGroup
}

func New(ctx context.Context, guild Guild, m *messenger.Messenger, in *inbox.Inbox, verifier Verifier, reactions ReactionHandler, dir *roles.Directory, cfg Config, logger *zap.Logger) *Router {
	return &Router{
		ctx:       ctx,
		guild:     guild,
		messenger: m,
		inbox:     in,
		verifier:  verifier,
		reactions: reactions,
		dir:       dir,
		cfg:       cfg,
		logger:    logger.Named("router"),
	}
}

// Register attaches every handler to the session.
func (r *Router) Register(s *discordgo.Session) {
	s.AddHandler(r.OnReady)
	s.AddHandler(r.OnMessageCreate)
	s.AddHandler(r.OnReactionAdd)
	s.AddHandler(r.OnMemberAdd)
	s.AddHandler(r.OnMemberRemove)
	s.AddHandler(r.OnMemberUpdate)
}

// Wait blocks until every flow started by a handler has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) self() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selfID
}

// spawn runs fn in a tracked goroutine. A panic is logged and swallowed.
func (r *Router) spawn(flow string, fields []zap.Field, fn func(ctx context.Context) error) {
	logger := r.logger.With(append(fields, zap.String("flow", flow))...)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			}
		}()
		if err := fn(r.ctx); err != nil {
			logFlowError(logger, err)
		}
	}()
}

// logFlowError picks the level by failure kind. Expected outcomes of a
// conversation are not errors of the bot.
func logFlowError(logger *zap.Logger, err error) {
	var exhausted *messenger.DeliveryExhaustedError
	switch {
	case errors.Is(err, context.Canceled):
		logger.Debug("flow stopped by shutdown", zap.Error(err))
	case errors.Is(err, inbox.ErrTimeout),
		errors.Is(err, inbox.ErrBusy),
		errors.Is(err, platform.ErrUnreachableUser),
		errors.Is(err, platform.ErrNotFound):
		logger.Info("flow ended early", zap.Error(err))
	case errors.As(err, &exhausted), errors.Is(err, platform.ErrPermission):
		logger.Error("flow failed", zap.Error(err))
	default:
		logger.Warn("flow failed", zap.Error(err))
	}
}

func (r *Router) OnReady(_ *discordgo.Session, ev *discordgo.Ready) {
	if ev.User == nil {
		return
	}
	r.mu.Lock()
	r.selfID = ev.User.ID
	r.mu.Unlock()
	r.logger.Info("connected to gateway", zap.String("user", ev.User.Username), zap.String("id", ev.User.ID))
}

func (r *Router) OnMessageCreate(_ *discordgo.Session, ev *discordgo.MessageCreate) {
	if ev.Message == nil || ev.Author == nil || ev.Author.Bot || ev.Content == "" {
		return
	}
	author := ev.Author.ID

	if ev.GuildID == "" {
		r.inbox.Deliver(author, ev.ChannelID, ev.Content)
		return
	}
	if ev.GuildID != r.cfg.GuildID {
		return
	}

	intake := ev.ChannelID == r.cfg.IntakeChannelID
	if intake {
		r.deleteLater(ev.ChannelID, ev.ID)
	}

	command := strings.ToLower(strings.TrimSpace(ev.Content))
	fields := []zap.Field{zap.String("user", author)}
	switch {
	case strings.HasPrefix(command, roleCommand):
		name, ok := selfService[strings.TrimSpace(strings.TrimPrefix(command, roleCommand))]
		if !ok {
			return
		}
		if !intake {
			r.deleteLater(ev.ChannelID, ev.ID)
		}
		r.spawn("self-service role", append(fields, zap.String("role", string(name))), func(ctx context.Context) error {
			return r.grantSelfService(ctx, author, name)
		})
	case command == verifyCommand && intake:
		r.spawn("verify", fields, func(ctx context.Context) error {
			return r.verifier.Verify(ctx, author)
		})
	}
}

func (r *Router) deleteLater(channelID, messageID string) {
	r.spawn("delete message", []zap.Field{zap.String("message", messageID)}, func(context.Context) error {
		if err := r.guild.DeleteMessage(channelID, messageID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			return fmt.Errorf("delete message: %w", err)
		}
		return nil
	})
}

// grantSelfService adds the role unless the member holds it already or
// is still unverified. A refusal is explained by direct message.
func (r *Router) grantSelfService(ctx context.Context, userID string, name roles.Name) error {
	member, err := r.guild.Member(userID)
	if err != nil {
		return fmt.Errorf("fetch member: %w", err)
	}

	var refusal string
	switch {
	case r.dir.Has(member.Roles, roles.Unverified):
		refusal = fmt.Sprintf("You need to finish verification before you can get the **%s** role.", name)
	case r.dir.Has(member.Roles, name):
		refusal = fmt.Sprintf("You already have the **%s** role.", name)
	}
	if refusal != "" {
		dm, err := r.guild.OpenDirectConversation(userID)
		if err != nil {
			return err
		}
		_, err = r.messenger.Send(ctx, dm.ID, utils.Framed(":warning: "+refusal))
		return err
	}

	after := append(append([]string(nil), member.Roles...), r.dir.RoleID(name))
	if err := r.guild.SetMemberRoles(userID, after); err != nil {
		return fmt.Errorf("grant %s: %w", name, err)
	}
	r.dir.Update(userID, member.Roles, after)
	r.logger.Info("self-service role granted", zap.String("user", userID), zap.String("role", string(name)))
	return nil
}

func (r *Router) OnReactionAdd(_ *discordgo.Session, ev *discordgo.MessageReactionAdd) {
	if ev.MessageReaction == nil || ev.UserID == r.self() {
		return
	}
	if ev.GuildID != "" && ev.GuildID != r.cfg.GuildID {
		return
	}
	reaction := applications.Reaction{
		UserID:    ev.UserID,
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
		Glyph:     ev.Emoji.Name,
	}
	if ev.Member != nil {
		reaction.MemberRoles = ev.Member.Roles
		reaction.Bot = ev.Member.User != nil && ev.Member.User.Bot
	}
	fields := []zap.Field{zap.String("user", ev.UserID), zap.String("message", ev.MessageID)}
	r.spawn("reaction", fields, func(ctx context.Context) error {
		return r.reactions.HandleReaction(ctx, reaction)
	})
}

// OnMemberAdd counts the newcomer, then replaces their roles with
// Unverified.
func (r *Router) OnMemberAdd(_ *discordgo.Session, ev *discordgo.GuildMemberAdd) {
	if ev.Member == nil || ev.User == nil || ev.GuildID != r.cfg.GuildID {
		return
	}
	userID := ev.User.ID
	joined := append([]string(nil), ev.Roles...)
	r.dir.Join(userID, joined)

	r.spawn("member join", []zap.Field{zap.String("user", userID)}, func(context.Context) error {
		after := []string{r.dir.RoleID(roles.Unverified)}
		if err := r.guild.SetMemberRoles(userID, after); err != nil {
			return fmt.Errorf("assign unverified role: %w", err)
		}
		r.dir.Update(userID, joined, after)
		return nil
	})
}

func (r *Router) OnMemberRemove(_ *discordgo.Session, ev *discordgo.GuildMemberRemove) {
	if ev.Member == nil || ev.User == nil || ev.GuildID != r.cfg.GuildID {
		return
	}
	r.dir.Leave(ev.User.ID, ev.Roles)
}

func (r *Router) OnMemberUpdate(_ *discordgo.Session, ev *discordgo.GuildMemberUpdate) {
	if ev.Member == nil || ev.User == nil || ev.GuildID != r.cfg.GuildID {
		return
	}
	var before []string
	if ev.BeforeUpdate != nil {
		before = ev.BeforeUpdate.Roles
	}
	r.dir.Update(ev.User.ID, before, ev.Roles)
}
