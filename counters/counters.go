// Package counters keeps the counter channels' names in line with the
// role directory.
package counters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"gatekeeper/clock"
	"gatekeeper/roles"
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultRecountEvery = 60
)

// Surface is the part of the platform the reconciler reads and renames.
type Surface interface {
	Channel(channelID string) (*discordgo.Channel, error)
	Members() ([]*discordgo.Member, error)
	RenameChannel(channelID, name string) error
}

type Reconciler struct {
	surface      Surface
	dir          *roles.Directory
	clock        clock.Clock
	interval     time.Duration
	recountEvery int
	logger       *zap.Logger

	mu        sync.Mutex
	cycles    int
	published map[string]string
}

// New returns a reconciler publishing every interval. recountEvery is the
// number of cycles between full recounts; zero disables them.
func New(surface Surface, dir *roles.Directory, clk clock.Clock, interval time.Duration, recountEvery int, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if recountEvery < 0 {
		recountEvery = 0
	}
	return &Reconciler{
		surface:      surface,
		dir:          dir,
		clock:        clk,
		interval:     interval,
		recountEvery: recountEvery,
		logger:       logger.Named("counters"),
		published:    make(map[string]string),
	}
}

// Recount rebuilds every count from the guild's membership.
func (r *Reconciler) Recount() error {
	members, err := r.surface.Members()
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	index := make(map[string][]string, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		index[m.User.ID] = m.Roles
	}
	r.dir.Reset(index)
	r.logger.Info("counts recomputed", zap.Int("members", len(index)))
	return nil
}

// Prime loads the starting counts. It records the current channel names,
// then recounts; when the recount fails the counts are read back from
// those names.
func (r *Reconciler) Prime() {
	seeds := make(map[roles.Name]int)
	for _, c := range r.dir.Snapshot() {
		ch, err := r.surface.Channel(c.ChannelID)
		if err != nil {
			r.logger.Warn("could not read counter channel", zap.String("role", string(c.Name)), zap.Error(err))
			continue
		}
		r.mu.Lock()
		r.published[c.ChannelID] = ch.Name
		r.mu.Unlock()
		if n, ok := roles.ParseChannelName(ch.Name); ok {
			seeds[c.Name] = n
		}
	}

	err := r.Recount()
	if err == nil {
		return
	}
	r.logger.Warn("recount failed, seeding from channel names", zap.Error(err))
	for name, n := range seeds {
		if err := r.dir.Seed(name, n); err != nil {
			r.logger.Warn("could not seed count", zap.String("role", string(name)), zap.Error(err))
		}
	}
}

// Cycle publishes every counted role once. A failed rename is logged and
// the remaining roles are still published.
func (r *Reconciler) Cycle(ctx context.Context) {
	r.mu.Lock()
	r.cycles++
	recount := r.recountEvery > 0 && r.cycles%r.recountEvery == 0
	r.mu.Unlock()

	if recount {
		if err := r.Recount(); err != nil {
			r.logger.Warn("periodic recount failed", zap.Error(err))
		}
	}

	for _, c := range r.dir.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		name := c.Name.ChannelName(c.Value)
		r.mu.Lock()
		unchanged := r.published[c.ChannelID] == name
		r.mu.Unlock()
		if unchanged {
			continue
		}
		if err := r.surface.RenameChannel(c.ChannelID, name); err != nil {
			r.logger.Warn("could not rename counter channel",
				zap.String("role", string(c.Name)), zap.String("channel", c.ChannelID), zap.Error(err))
			continue
		}
		r.mu.Lock()
		r.published[c.ChannelID] = name
		r.mu.Unlock()
	}
}

// Run publishes immediately and then on every tick until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}
