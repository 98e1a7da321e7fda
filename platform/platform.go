// Package platform is the bot's view of the chat server: the REST
// primitives the verification flows need, and the classification of the
// failures they return.
package platform

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrPermission      = errors.New("permission denied")
	ErrUnreachableUser = errors.New("user cannot be reached by direct message")
)

// cannotMessageUser is the API error code returned when the recipient
// blocks direct messages from server members.
const cannotMessageUser = 50007

// Platform is implemented by Discord and by platformtest.Fake.
type Platform interface {
	SendMessage(channelID, content string) (*discordgo.Message, error)
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
	FetchMessage(channelID, messageID string) (*discordgo.Message, error)
	RecentMessages(channelID string, limit int) ([]*discordgo.Message, error)
	DeleteMessage(channelID, messageID string) error
	AddReaction(channelID, messageID, glyph string) error
	RemoveReaction(channelID, messageID, glyph, userID string) error
	OpenDirectConversation(userID string) (*discordgo.Channel, error)
	Member(userID string) (*discordgo.Member, error)
	Members() ([]*discordgo.Member, error)
	SetMemberRoles(userID string, roleIDs []string) error
	RenameChannel(channelID, name string) error
	Channel(channelID string) (*discordgo.Channel, error)
	Roles() ([]*discordgo.Role, error)
}

// StatusCode returns the HTTP status carried by a REST failure, or 0.
func StatusCode(err error) int {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode
	}
	return 0
}

// Transient reports whether err is a gateway-class failure worth
// retrying.
func Transient(err error) bool {
	switch StatusCode(err) {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Classify tags a REST failure with the sentinel matching its status,
// keeping the original error in the chain.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil && rest.Message.Code == cannotMessageUser {
		return errors.Join(ErrUnreachableUser, err)
	}
	switch StatusCode(err) {
	case http.StatusNotFound:
		return errors.Join(ErrNotFound, err)
	case http.StatusForbidden:
		return errors.Join(ErrPermission, err)
	}
	return err
}
