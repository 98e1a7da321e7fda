// Package sessions runs the verification interview held with an applicant
// over direct messages.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatekeeper/clock"
	"gatekeeper/datastructs"
	"gatekeeper/inbox"
	"gatekeeper/messenger"
	"gatekeeper/utils"
)

const (
	CancelKeyword  = "!stop"
	DefaultTimeout = 2 * time.Minute
)

var (
	ErrDuplicateSession = errors.New("session already open")
	ErrAlreadySubmitted = errors.New("application already awaiting review")
	ErrSessionClosed    = errors.New("session closed")
)

// Opener opens the direct conversation the interview runs in.
type Opener interface {
	OpenDirectConversation(userID string) (*discordgo.Channel, error)
}

// Submitter is the review surface completed interviews are posted to.
type Submitter interface {
	HasPending(ctx context.Context, userID string) (bool, error)
	Submit(ctx context.Context, app datastructs.Application) (datastructs.PendingApplication, error)
}

type Controller struct {
	opener    Opener
	messenger *messenger.Messenger
	inbox     *inbox.Inbox
	board     Submitter
	clock     clock.Clock
	timeout   time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*datastructs.Session
}

func New(opener Opener, m *messenger.Messenger, in *inbox.Inbox, board Submitter, clk clock.Clock, timeout time.Duration, logger *zap.Logger) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Controller{
		opener:    opener,
		messenger: m,
		inbox:     in,
		board:     board,
		clock:     clk,
		timeout:   timeout,
		logger:    logger.Named("sessions"),
		sessions:  make(map[string]*datastructs.Session),
	}
}

// Active reports whether userID has an interview in progress.
func (c *Controller) Active(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[userID]
	return ok
}

// Verify handles the /verify command end to end.
func (c *Controller) Verify(ctx context.Context, userID string) error {
	s, err := c.Begin(ctx, userID)
	switch {
	case errors.Is(err, ErrDuplicateSession), errors.Is(err, ErrAlreadySubmitted):
		c.logger.Info("verification refused", zap.String("user", userID), zap.Error(err))
		c.notifyOpenRequest(ctx, userID)
		return nil
	case err != nil:
		return err
	}
	return c.Run(ctx, s)
}

func (c *Controller) notifyOpenRequest(ctx context.Context, userID string) {
	dm, err := c.opener.OpenDirectConversation(userID)
	if err != nil {
		c.logger.Warn("could not open direct conversation", zap.String("user", userID), zap.Error(err))
		return
	}
	if _, err := c.messenger.Send(ctx, dm.ID, utils.Framed(":warning: You already have an open request for verification!")); err != nil {
		c.logger.Warn("could not send open request notice", zap.String("user", userID), zap.Error(err))
	}
}

// Begin starts an interview for userID. The registry slot is taken before
// the review history is scanned, so concurrent calls yield one session.
func (c *Controller) Begin(ctx context.Context, userID string) (*datastructs.Session, error) {
	c.mu.Lock()
	if _, ok := c.sessions[userID]; ok {
		c.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	c.sessions[userID] = nil
	c.mu.Unlock()

	pending, err := c.board.HasPending(ctx, userID)
	if err != nil {
		c.logger.Warn("review history unavailable, assuming no pending application",
			zap.String("user", userID), zap.Error(err))
		pending = false
	}
	if pending {
		c.drop(userID)
		return nil, ErrAlreadySubmitted
	}

	dm, err := c.opener.OpenDirectConversation(userID)
	if err != nil {
		c.drop(userID)
		return nil, fmt.Errorf("open direct conversation: %w", err)
	}

	s := &datastructs.Session{
		ID:          uuid.New(),
		UserID:      userID,
		DMChannelID: dm.ID,
		State:       datastructs.AwaitingAnswer,
		StartedAt:   c.clock.Now(),
	}
	c.mu.Lock()
	c.sessions[userID] = s
	c.mu.Unlock()
	c.logger.Info("session started", zap.Stringer("session", s.ID), zap.String("user", userID))
	return s, nil
}

func (c *Controller) drop(userID string) {
	c.mu.Lock()
	delete(c.sessions, userID)
	c.mu.Unlock()
}

func (c *Controller) finish(s *datastructs.Session, state datastructs.SessionState) {
	c.mu.Lock()
	s.State = state
	if c.sessions[s.UserID] == s {
		delete(c.sessions, s.UserID)
	}
	c.mu.Unlock()
	c.logger.Info("session ended", zap.Stringer("session", s.ID), zap.String("user", s.UserID), zap.Stringer("state", state))
}

// Run sends the interview header and first prompt, then feeds each reply
// to Advance until the session ends. Every prompt or warning restarts
// the deadline.
func (c *Controller) Run(ctx context.Context, s *datastructs.Session) error {
	box, err := c.inbox.Open(s.UserID, s.DMChannelID)
	if err != nil {
		c.finish(s, datastructs.Failed)
		if errors.Is(err, inbox.ErrBusy) {
			if _, serr := c.messenger.Send(ctx, s.DMChannelID, promptOpenNotice); serr != nil {
				c.logger.Warn("could not send open prompt notice", zap.String("user", s.UserID), zap.Error(serr))
			}
		}
		return fmt.Errorf("await replies: %w", err)
	}
	defer box.Close()

	if err := c.send(ctx, s, c.header()); err != nil {
		return err
	}
	if err := c.send(ctx, s, prompt(s.QuestionIndex)); err != nil {
		return err
	}

	for !s.State.Terminal() {
		msg, err := box.Next(ctx, c.timeout)
		switch {
		case errors.Is(err, inbox.ErrTimeout):
			return c.expire(ctx, s)
		case err != nil:
			c.finish(s, datastructs.Failed)
			return err
		}

		err = c.Advance(ctx, s, msg.Content)
		var verr *ValidationError
		if err != nil && !errors.As(err, &verr) {
			return err
		}
	}
	return nil
}

func (c *Controller) expire(ctx context.Context, s *datastructs.Session) error {
	c.finish(s, datastructs.Expired)
	_, err := c.messenger.Send(ctx, s.DMChannelID, utils.Framed(
		fmt.Sprintf("Time’s up (%s).", utils.Minutes(c.timeout)),
		"If you still want to verify, run **`/verify`** on the server again.",
	))
	return err
}

// Advance applies one reply from the applicant. A rejected answer returns
// a *ValidationError and leaves the session waiting on the same question.
// Advance must not be called concurrently for one session.
func (c *Controller) Advance(ctx context.Context, s *datastructs.Session, raw string) error {
	if s.State.Terminal() {
		return ErrSessionClosed
	}
	text := strings.TrimSpace(raw)

	if strings.EqualFold(text, CancelKeyword) {
		c.finish(s, datastructs.Cancelled)
		_, err := c.messenger.Send(ctx, s.DMChannelID, utils.Framed(
			"Verification **cancelled**.",
			"If you still want to verify, run **`/verify`** on the server again.",
		))
		return err
	}

	if err := questions[s.QuestionIndex].Validate(text); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			if serr := c.send(ctx, s, utils.Framed(":warning: "+verr.Reason)); serr != nil {
				return serr
			}
		}
		return err
	}

	s.Answers = append(s.Answers, text)
	s.QuestionIndex++
	if s.QuestionIndex < len(questions) {
		return c.send(ctx, s, prompt(s.QuestionIndex))
	}
	return c.complete(ctx, s)
}

func (c *Controller) complete(ctx context.Context, s *datastructs.Session) error {
	app := datastructs.Application{
		ApplicantID: s.UserID,
		SubmittedAt: c.clock.Now(),
	}
	for i, q := range questions {
		app.Answers = append(app.Answers, datastructs.Answer{Question: q.Prompt, Text: s.Answers[i]})
	}

	if _, err := c.board.Submit(ctx, app); err != nil {
		c.finish(s, datastructs.Failed)
		return fmt.Errorf("submit application: %w", err)
	}
	c.finish(s, datastructs.Completed)

	_, err := c.messenger.Send(ctx, s.DMChannelID, utils.Framed(
		"Thank you for your responses!",
		"Now please wait for the administrators to review your answers.",
	))
	return err
}

// send delivers content into the session's conversation. A failed
// delivery ends the session.
func (c *Controller) send(ctx context.Context, s *datastructs.Session, content string) error {
	if _, err := c.messenger.Send(ctx, s.DMChannelID, content); err != nil {
		c.finish(s, datastructs.Failed)
		return err
	}
	return nil
}

// promptOpenNotice answers /verify from someone who still owes the bot a
// reply in the same conversation, such as a moderator's rejection reason.
var promptOpenNotice = utils.Framed(
	":warning: You still have an open prompt in this conversation.",
	"Finish that one first, then run **`/verify`** again.",
)

func (c *Controller) header() string {
	return utils.Framed(
		"## Verification form",
		"",
		fmt.Sprintf("You have **%s** to answer each question.", utils.Minutes(c.timeout)),
		"Type **`"+CancelKeyword+"`** at any time to cancel.",
	)
}

func prompt(index int) string {
	return utils.Framed(
		fmt.Sprintf("**Question %d/%d**", index+1, len(questions)),
		questions[index].Prompt,
	)
}
