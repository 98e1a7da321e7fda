package platform

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const membersPageSize = 1000

// Discord adapts a discordgo session bound to one guild.
type Discord struct {
	session *discordgo.Session
	guildID string
}

func NewDiscord(s *discordgo.Session, guildID string) *Discord {
	return &Discord{session: s, guildID: guildID}
}

func (d *Discord) SendMessage(channelID, content string) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSend(channelID, content)
	return msg, Classify(err)
}

func (d *Discord) SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendEmbed(channelID, embed)
	return msg, Classify(err)
}

func (d *Discord) FetchMessage(channelID, messageID string) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessage(channelID, messageID)
	return msg, Classify(err)
}

func (d *Discord) RecentMessages(channelID string, limit int) ([]*discordgo.Message, error) {
	msgs, err := d.session.ChannelMessages(channelID, limit, "", "", "")
	return msgs, Classify(err)
}

func (d *Discord) DeleteMessage(channelID, messageID string) error {
	return Classify(d.session.ChannelMessageDelete(channelID, messageID))
}

func (d *Discord) AddReaction(channelID, messageID, glyph string) error {
	return Classify(d.session.MessageReactionAdd(channelID, messageID, glyph))
}

func (d *Discord) RemoveReaction(channelID, messageID, glyph, userID string) error {
	return Classify(d.session.MessageReactionRemove(channelID, messageID, glyph, userID))
}

func (d *Discord) OpenDirectConversation(userID string) (*discordgo.Channel, error) {
	ch, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachableUser, Classify(err))
	}
	return ch, nil
}

func (d *Discord) Member(userID string) (*discordgo.Member, error) {
	m, err := d.session.GuildMember(d.guildID, userID)
	return m, Classify(err)
}

// Members pages through the whole guild member list.
func (d *Discord) Members() ([]*discordgo.Member, error) {
	var all []*discordgo.Member
	after := ""
	for {
		page, err := d.session.GuildMembers(d.guildID, after, membersPageSize)
		if err != nil {
			return nil, Classify(err)
		}
		all = append(all, page...)
		if len(page) < membersPageSize {
			return all, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (d *Discord) SetMemberRoles(userID string, roleIDs []string) error {
	_, err := d.session.GuildMemberEdit(d.guildID, userID, &discordgo.GuildMemberParams{Roles: &roleIDs})
	return Classify(err)
}

func (d *Discord) RenameChannel(channelID, name string) error {
	_, err := d.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name})
	return Classify(err)
}

func (d *Discord) Channel(channelID string) (*discordgo.Channel, error) {
	ch, err := d.session.Channel(channelID)
	return ch, Classify(err)
}

func (d *Discord) Roles() ([]*discordgo.Role, error) {
	roles, err := d.session.GuildRoles(d.guildID)
	return roles, Classify(err)
}
