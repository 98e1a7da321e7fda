// Package platformtest provides an in-memory platform.Platform for tests.
package platformtest

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	"gatekeeper/platform"
)

// Sent is one outbound message recorded by the fake.
type Sent struct {
	ChannelID string
	Content   string
	Embed     *discordgo.MessageEmbed
	MessageID string
}

// Fake keeps channels, messages, members and roles in memory. Hooks let a
// test fail individual calls; a hook returning nil lets the call proceed.
type Fake struct {
	mu sync.Mutex

	nextID    int
	messages  map[string]*discordgo.Message
	sent      []Sent
	reactions map[string][]string
	channels  map[string]*discordgo.Channel
	members   map[string]*discordgo.Member
	roles     []*discordgo.Role
	renames   []string
	noDM      map[string]bool

	SendHook    func(channelID string) error
	DeleteHook  func(channelID, messageID string) error
	RolesHook   func(userID string) error
	RenameHook  func(channelID string) error
	FetchHook   func(channelID, messageID string) error
	MembersHook func() error
}

var _ platform.Platform = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		messages:  make(map[string]*discordgo.Message),
		reactions: make(map[string][]string),
		channels:  make(map[string]*discordgo.Channel),
		members:   make(map[string]*discordgo.Member),
		noDM:      make(map[string]bool),
	}
}

// Status builds the REST error the real adapter would return for an
// HTTP failure.
func Status(code int) error {
	return platform.Classify(&discordgo.RESTError{Response: &http.Response{StatusCode: code}})
}

// DMChannelID is the direct conversation id the fake opens for userID.
func DMChannelID(userID string) string { return "dm-" + userID }

func (f *Fake) id() string {
	f.nextID++
	return strconv.Itoa(1000 + f.nextID)
}

func (f *Fake) AddMember(userID string, roleIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[userID] = &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: append([]string(nil), roleIDs...)}
}

func (f *Fake) AddRole(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles = append(f.roles, &discordgo.Role{ID: id, Name: name})
}

func (f *Fake) AddChannel(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[id] = &discordgo.Channel{ID: id, Name: name}
}

// BlockDirectMessages makes OpenDirectConversation fail for userID.
func (f *Fake) BlockDirectMessages(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noDM[userID] = true
}

// Post stores a message as if someone else had written it.
func (f *Fake) Post(channelID string, msg *discordgo.Message) *discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = f.id()
	msg.ChannelID = channelID
	f.messages[msg.ID] = msg
	return msg
}

func (f *Fake) SendMessage(channelID, content string) (*discordgo.Message, error) {
	return f.send(channelID, content, nil)
}

func (f *Fake) SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	return f.send(channelID, "", embed)
}

func (f *Fake) send(channelID, content string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	if f.SendHook != nil {
		if err := f.SendHook(channelID); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &discordgo.Message{ID: f.id(), ChannelID: channelID, Content: content}
	if embed != nil {
		msg.Embeds = []*discordgo.MessageEmbed{embed}
	}
	f.messages[msg.ID] = msg
	f.sent = append(f.sent, Sent{ChannelID: channelID, Content: content, Embed: embed, MessageID: msg.ID})
	return msg, nil
}

// SentTo returns the messages sent to channelID in order.
func (f *Fake) SentTo(channelID string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Sent
	for _, s := range f.sent {
		if s.ChannelID == channelID {
			out = append(out, s)
		}
	}
	return out
}

// Exists reports whether messageID has not been deleted.
func (f *Fake) Exists(messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.messages[messageID]
	return ok
}

func (f *Fake) FetchMessage(channelID, messageID string) (*discordgo.Message, error) {
	if f.FetchHook != nil {
		if err := f.FetchHook(channelID, messageID); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok || msg.ChannelID != channelID {
		return nil, Status(http.StatusNotFound)
	}
	return msg, nil
}

// RecentMessages returns the newest messages first, like the API.
func (f *Fake) RecentMessages(channelID string, limit int) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*discordgo.Message
	for _, msg := range f.messages {
		if msg.ChannelID == channelID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a > b
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) DeleteMessage(channelID, messageID string) error {
	if f.DeleteHook != nil {
		if err := f.DeleteHook(channelID, messageID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[messageID]; !ok {
		return Status(http.StatusNotFound)
	}
	delete(f.messages, messageID)
	return nil
}

func (f *Fake) AddReaction(channelID, messageID, glyph string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions[messageID] = append(f.reactions[messageID], glyph)
	return nil
}

func (f *Fake) RemoveReaction(channelID, messageID, glyph, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions[messageID] = append(f.reactions[messageID], "-"+glyph+"@"+userID)
	return nil
}

// Reactions returns the reaction calls made on messageID. Removals are
// recorded as "-<glyph>@<user>".
func (f *Fake) Reactions(messageID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reactions[messageID]...)
}

func (f *Fake) OpenDirectConversation(userID string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noDM[userID] {
		return nil, fmt.Errorf("%w: %w", platform.ErrUnreachableUser, Status(http.StatusForbidden))
	}
	return &discordgo.Channel{ID: DMChannelID(userID), Type: discordgo.ChannelTypeDM}, nil
}

func (f *Fake) Member(userID string) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return nil, Status(http.StatusNotFound)
	}
	cp := *m
	cp.Roles = append([]string(nil), m.Roles...)
	return &cp, nil
}

func (f *Fake) Members() ([]*discordgo.Member, error) {
	if f.MembersHook != nil {
		if err := f.MembersHook(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*discordgo.Member, 0, len(f.members))
	for _, m := range f.members {
		cp := *m
		cp.Roles = append([]string(nil), m.Roles...)
		out = append(out, &cp)
	}
	return out, nil
}

func (f *Fake) SetMemberRoles(userID string, roleIDs []string) error {
	if f.RolesHook != nil {
		if err := f.RolesHook(userID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return Status(http.StatusNotFound)
	}
	m.Roles = append([]string(nil), roleIDs...)
	return nil
}

// MemberRoles returns the current role ids of userID.
func (f *Fake) MemberRoles(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[userID]; ok {
		return append([]string(nil), m.Roles...)
	}
	return nil
}

func (f *Fake) RenameChannel(channelID, name string) error {
	if f.RenameHook != nil {
		if err := f.RenameHook(channelID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return Status(http.StatusNotFound)
	}
	ch.Name = name
	f.renames = append(f.renames, channelID+"="+name)
	return nil
}

// Renames lists every successful rename as "<channel>=<name>".
func (f *Fake) Renames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.renames...)
}

func (f *Fake) ChannelName(channelID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[channelID]; ok {
		return ch.Name
	}
	return ""
}

func (f *Fake) Channel(channelID string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, Status(http.StatusNotFound)
	}
	cp := *ch
	return &cp, nil
}

func (f *Fake) Roles() ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.Role(nil), f.roles...), nil
}
