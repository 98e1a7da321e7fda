package counters

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"gatekeeper/clock"
	"gatekeeper/platform/platformtest"
	"gatekeeper/roles"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)

type harness struct {
	fake  *platformtest.Fake
	clock *clock.Fake
	dir   *roles.Directory
	rec   *Reconciler
}

func newHarness(t *testing.T, recountEvery int) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir, err := roles.New([]roles.Binding{
		{Name: roles.Artist, RoleID: "r-artist", ChannelID: "c-artist"},
		{Name: roles.Member, RoleID: "r-member", ChannelID: "c-member"},
		{Name: roles.Unverified, RoleID: "r-unverified", ChannelID: "c-unverified"},
		{Name: roles.Hidden, RoleID: "r-hidden"},
	}, logger)
	require.NoError(t, err)

	fake := platformtest.New()
	fake.AddChannel("c-artist", "┇ Artists : 0")
	fake.AddChannel("c-member", "┇ Members : 0")
	fake.AddChannel("c-unverified", "┇ Unverifieds : 0")
	fake.AddMember("1", "r-member", "r-artist")
	fake.AddMember("2", "r-member")
	fake.AddMember("3", "r-unverified")
	fake.AddMember("4", "r-hidden")

	clk := clock.NewFake(epoch)
	return &harness{fake: fake, clock: clk, dir: dir, rec: New(fake, dir, clk, time.Minute, recountEvery, logger)}
}

func TestPrimeRecountsMembership(t *testing.T) {
	h := newHarness(t, 0)
	h.rec.Prime()

	assert.Equal(t, 1, h.dir.Count(roles.Artist))
	assert.Equal(t, 2, h.dir.Count(roles.Member))
	assert.Equal(t, 1, h.dir.Count(roles.Unverified))
}

func TestPrimeSeedsFromChannelNamesWhenRecountFails(t *testing.T) {
	h := newHarness(t, 0)
	h.fake.AddChannel("c-member", "┇ Members : 12")
	h.fake.AddChannel("c-artist", "renamed by hand")
	h.fake.MembersHook = func() error { return platformtest.Status(http.StatusForbidden) }

	h.rec.Prime()
	assert.Equal(t, 12, h.dir.Count(roles.Member))
	assert.Equal(t, 0, h.dir.Count(roles.Artist))

	h.rec.Cycle(context.Background())
	assert.ElementsMatch(t, []string{"c-artist=┇ Artists : 0"}, h.fake.Renames(),
		"names that already show the count are not re-sent")
}

func TestCyclePublishesOnlyChanges(t *testing.T) {
	h := newHarness(t, 0)
	h.rec.Prime()
	ctx := context.Background()

	h.rec.Cycle(ctx)
	assert.ElementsMatch(t, []string{
		"c-artist=┇ Artists : 1",
		"c-member=┇ Members : 2",
		"c-unverified=┇ Unverifieds : 1",
	}, h.fake.Renames())

	h.rec.Cycle(ctx)
	assert.Len(t, h.fake.Renames(), 3)

	require.NoError(t, h.dir.Increment(roles.Member))
	h.rec.Cycle(ctx)
	renames := h.fake.Renames()
	require.Len(t, renames, 4)
	assert.Equal(t, "c-member=┇ Members : 3", renames[3])
	assert.Equal(t, "┇ Members : 3", h.fake.ChannelName("c-member"))
}

func TestCycleSurvivesRenameFailure(t *testing.T) {
	h := newHarness(t, 0)
	h.rec.Prime()
	failing := true
	h.fake.RenameHook = func(channelID string) error {
		if channelID == "c-artist" && failing {
			return platformtest.Status(http.StatusTooManyRequests)
		}
		return nil
	}

	h.rec.Cycle(context.Background())
	assert.ElementsMatch(t, []string{
		"c-member=┇ Members : 2",
		"c-unverified=┇ Unverifieds : 1",
	}, h.fake.Renames())

	failing = false
	h.rec.Cycle(context.Background())
	assert.Contains(t, h.fake.Renames(), "c-artist=┇ Artists : 1")
}

func TestPeriodicRecountCorrectsDrift(t *testing.T) {
	h := newHarness(t, 2)
	h.rec.Prime()
	ctx := context.Background()

	h.rec.Cycle(ctx)
	h.fake.AddMember("5", "r-member")

	h.rec.Cycle(ctx)
	assert.Equal(t, 3, h.dir.Count(roles.Member))
	assert.Equal(t, "┇ Members : 3", h.fake.ChannelName("c-member"))
}

func TestRunPublishesEveryTick(t *testing.T) {
	h := newHarness(t, 0)
	h.rec.Prime()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.rec.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.fake.Renames()) == 3 }, time.Second, time.Millisecond)

	h.clock.WaitForTimers(1)
	require.NoError(t, h.dir.Decrement(roles.Unverified))
	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return h.fake.ChannelName("c-unverified") == "┇ Unverifieds : 0"
	}, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
