package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gatekeeper/applications"
	"gatekeeper/clock"
	"gatekeeper/inbox"
	"gatekeeper/messenger"
	"gatekeeper/platform/platformtest"
	"gatekeeper/roles"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	guildID  = "guild"
	intakeID = "intake"
	botID    = "bot"
)

type recorder struct {
	mu        sync.Mutex
	verified  []string
	reactions []applications.Reaction
	panicOn   string
}

func (r *recorder) Verify(_ context.Context, userID string) error {
	if userID == r.panicOn {
		panic("verifier exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified = append(r.verified, userID)
	return nil
}

func (r *recorder) HandleReaction(_ context.Context, reaction applications.Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, reaction)
	return nil
}

type harness struct {
	fake   *platformtest.Fake
	inbox  *inbox.Inbox
	dir    *roles.Directory
	rec    *recorder
	router *Router
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	dir, err := roles.New([]roles.Binding{
		{Name: roles.Artist, RoleID: "r-artist", ChannelID: "c-artist"},
		{Name: roles.Member, RoleID: "r-member", ChannelID: "c-member"},
		{Name: roles.Unverified, RoleID: "r-unverified", ChannelID: "c-unverified"},
		{Name: roles.Hidden, RoleID: "r-hidden"},
	}, logger)
	require.NoError(t, err)
	dir.Reset(nil)

	fake := platformtest.New()
	policy := messenger.DefaultPolicy()
	policy.BaseDelay = time.Millisecond
	in := inbox.New(clock.NewFake(time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)))
	rec := &recorder{}
	r := New(context.Background(), fake, messenger.New(fake, policy, logger), in, rec, rec, dir,
		Config{GuildID: guildID, IntakeChannelID: intakeID}, logger)
	r.OnReady(nil, &discordgo.Ready{User: &discordgo.User{ID: botID, Username: "gatekeeper"}})

	return &harness{fake: fake, inbox: in, dir: dir, rec: rec, router: r, logs: logs}
}

func (h *harness) say(channelID, authorID, content string) *discordgo.Message {
	msg := h.fake.Post(channelID, &discordgo.Message{Content: content, Author: &discordgo.User{ID: authorID}})
	msg.GuildID = guildID
	h.router.OnMessageCreate(nil, &discordgo.MessageCreate{Message: msg})
	h.router.Wait()
	return msg
}

func TestDirectMessagesFeedTheInbox(t *testing.T) {
	h := newHarness(t)
	box, err := h.inbox.Open("111", "dm-111")
	require.NoError(t, err)
	defer box.Close()

	h.router.OnMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", ChannelID: "dm-111", Content: "25", Author: &discordgo.User{ID: "111"},
	}})

	msg, err := box.Next(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "25", msg.Content)
}

func TestIntakeChannelIsKeptClean(t *testing.T) {
	h := newHarness(t)

	chatter := h.say(intakeID, "111", "hello?")
	assert.False(t, h.fake.Exists(chatter.ID))

	elsewhere := h.say("general", "111", "hello?")
	assert.True(t, h.fake.Exists(elsewhere.ID))

	bot := h.fake.Post(intakeID, &discordgo.Message{Content: "notice", Author: &discordgo.User{ID: botID, Bot: true}})
	h.router.OnMessageCreate(nil, &discordgo.MessageCreate{Message: bot})
	h.router.Wait()
	assert.True(t, h.fake.Exists(bot.ID))
}

func TestVerifyIsOnlyHonouredInIntake(t *testing.T) {
	h := newHarness(t)

	h.say("general", "111", "/verify")
	h.say(intakeID, "222", "  /VERIFY ")

	assert.Equal(t, []string{"222"}, h.rec.verified)
}

func TestSelfServiceRoleGrant(t *testing.T) {
	h := newHarness(t)
	h.fake.AddMember("111", "r-member")
	h.dir.Join("111", []string{"r-member"})

	cmd := h.say("general", "111", "/role Artist")

	assert.Equal(t, []string{"r-member", "r-artist"}, h.fake.MemberRoles("111"))
	assert.Equal(t, 1, h.dir.Count(roles.Artist))
	assert.False(t, h.fake.Exists(cmd.ID))

	h.say("general", "111", "/role hidden")
	assert.ElementsMatch(t, []string{"r-member", "r-artist", "r-hidden"}, h.fake.MemberRoles("111"))
}

func TestSelfServiceRefusals(t *testing.T) {
	h := newHarness(t)
	h.fake.AddMember("111", "r-unverified")
	h.fake.AddMember("222", "r-member", "r-hidden")

	h.say("general", "111", "/role artist")
	h.say("general", "222", "/role hidden")
	h.say("general", "222", "/role moderator")

	assert.Equal(t, []string{"r-unverified"}, h.fake.MemberRoles("111"))
	assert.Equal(t, []string{"r-member", "r-hidden"}, h.fake.MemberRoles("222"))

	first := h.fake.SentTo(platformtest.DMChannelID("111"))
	require.Len(t, first, 1)
	assert.Contains(t, first[0].Content, "finish verification")

	second := h.fake.SentTo(platformtest.DMChannelID("222"))
	require.Len(t, second, 1)
	assert.Contains(t, second[0].Content, "You already have the **Hidden** role.")
}

func TestReactionsAreForwarded(t *testing.T) {
	h := newHarness(t)
	reaction := func(userID string, bot bool) *discordgo.MessageReactionAdd {
		return &discordgo.MessageReactionAdd{
			MessageReaction: &discordgo.MessageReaction{
				UserID: userID, MessageID: "m1", ChannelID: "review", GuildID: guildID,
				Emoji: discordgo.Emoji{Name: applications.AcceptGlyph},
			},
			Member: &discordgo.Member{User: &discordgo.User{ID: userID, Bot: bot}, Roles: []string{"r-mod"}},
		}
	}

	h.router.OnReactionAdd(nil, reaction(botID, true))
	h.router.OnReactionAdd(nil, reaction("999", false))
	h.router.Wait()

	want := []applications.Reaction{{
		UserID:      "999",
		ChannelID:   "review",
		MessageID:   "m1",
		Glyph:       applications.AcceptGlyph,
		MemberRoles: []string{"r-mod"},
	}}
	if diff := cmp.Diff(want, h.rec.reactions); diff != "" {
		t.Fatalf("forwarded reactions (-want +got):\n%s", diff)
	}
}

func TestMemberLifecycleKeepsCounts(t *testing.T) {
	h := newHarness(t)
	h.fake.AddMember("111")
	member := &discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: "111"}}

	h.router.OnMemberAdd(nil, &discordgo.GuildMemberAdd{Member: member})
	h.router.Wait()
	assert.Equal(t, []string{"r-unverified"}, h.fake.MemberRoles("111"))
	assert.Equal(t, 1, h.dir.Count(roles.Unverified))

	// The gateway echoes the role change the router just made.
	echoed := &discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: "111"}, Roles: []string{"r-unverified"}}
	h.router.OnMemberUpdate(nil, &discordgo.GuildMemberUpdate{Member: echoed})
	assert.Equal(t, 1, h.dir.Count(roles.Unverified))

	promoted := &discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: "111"}, Roles: []string{"r-member"}}
	h.router.OnMemberUpdate(nil, &discordgo.GuildMemberUpdate{Member: promoted, BeforeUpdate: echoed})
	assert.Equal(t, 0, h.dir.Count(roles.Unverified))
	assert.Equal(t, 1, h.dir.Count(roles.Member))

	// Leave payloads carry no roles.
	h.router.OnMemberRemove(nil, &discordgo.GuildMemberRemove{Member: member})
	assert.Equal(t, 0, h.dir.Count(roles.Member))
}

func TestOtherGuildsAreIgnored(t *testing.T) {
	h := newHarness(t)
	msg := h.fake.Post(intakeID, &discordgo.Message{Content: "/verify", Author: &discordgo.User{ID: "111"}, GuildID: "elsewhere"})
	h.router.OnMessageCreate(nil, &discordgo.MessageCreate{Message: msg})
	h.router.OnMemberAdd(nil, &discordgo.GuildMemberAdd{Member: &discordgo.Member{GuildID: "elsewhere", User: &discordgo.User{ID: "111"}}})
	h.router.Wait()

	assert.Empty(t, h.rec.verified)
	assert.True(t, h.fake.Exists(msg.ID))
	assert.Equal(t, 0, h.dir.Count(roles.Unverified))
}

func TestPanickingFlowIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.rec.panicOn = "111"

	h.say(intakeID, "111", "/verify")
	h.say(intakeID, "222", "/verify")

	assert.Equal(t, 1, h.logs.FilterMessage("handler panicked").Len())
	assert.Equal(t, []string{"222"}, h.rec.verified)
}
