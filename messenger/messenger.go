// Package messenger is the only outbound path for bot messages. Sends
// that fail with a transient platform error are retried with exponential
// backoff.
package messenger

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"gatekeeper/platform"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMultiplier  = 1.5
)

// Sender is the part of platform.Platform the messenger drives.
type Sender interface {
	SendMessage(channelID, content string) (*discordgo.Message, error)
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
}

type Policy struct {
	// MaxAttempts counts every delivery, the first one included.
	MaxAttempts int
	// BaseDelay is waited on the wall clock, not on an injected clock.
	BaseDelay   time.Duration
	Multiplier  float64
	Retryable   func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		Retryable:   platform.Transient,
	}
}

// DeliveryExhaustedError is returned once every attempt failed with a
// retryable error.
type DeliveryExhaustedError struct {
	ChannelID string
	Attempts  int
	Err       error
}

func (e *DeliveryExhaustedError) Error() string {
	return fmt.Sprintf("delivery to %s failed after %d attempts: %v", e.ChannelID, e.Attempts, e.Err)
}

func (e *DeliveryExhaustedError) Unwrap() error { return e.Err }

type Messenger struct {
	sender Sender
	policy Policy
	logger *zap.Logger

	// notify observes each scheduled retry; tests use it to read delays.
	notify func(attempt int, delay time.Duration)
}

func New(sender Sender, policy Policy, logger *zap.Logger) *Messenger {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier <= 1 {
		policy.Multiplier = DefaultMultiplier
	}
	if policy.Retryable == nil {
		policy.Retryable = platform.Transient
	}
	return &Messenger{sender: sender, policy: policy, logger: logger.Named("messenger")}
}

func (m *Messenger) Send(ctx context.Context, channelID, content string) (*discordgo.Message, error) {
	return m.deliver(ctx, channelID, func() (*discordgo.Message, error) {
		return m.sender.SendMessage(channelID, content)
	})
}

func (m *Messenger) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	return m.deliver(ctx, channelID, func() (*discordgo.Message, error) {
		return m.sender.SendEmbed(channelID, embed)
	})
}

func (m *Messenger) deliver(ctx context.Context, channelID string, send func() (*discordgo.Message, error)) (*discordgo.Message, error) {
	var (
		attempts  int
		permanent error
	)
	operation := func() (*discordgo.Message, error) {
		attempts++
		msg, err := send()
		if err != nil && !m.policy.Retryable(err) {
			permanent = err
			return nil, backoff.Permanent(err)
		}
		return msg, err
	}

	schedule := &backoff.ExponentialBackOff{
		InitialInterval:     m.policy.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          m.policy.Multiplier,
		MaxInterval:         time.Hour,
	}
	msg, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(schedule),
		backoff.WithMaxTries(uint(m.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			m.logger.Warn("transient delivery failure, retrying",
				zap.String("channel", channelID),
				zap.Int("attempt", attempts),
				zap.Duration("delay", delay),
				zap.Error(err))
			if m.notify != nil {
				m.notify(attempts, delay)
			}
		}),
	)
	switch {
	case err == nil:
		return msg, nil
	case permanent != nil:
		return nil, permanent
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}
	return nil, &DeliveryExhaustedError{ChannelID: channelID, Attempts: attempts, Err: err}
}
