// Package roles holds the role directory: the closed set of role names
// the bot understands, their guild identifiers, and live member counts.
package roles

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

type Name string

const (
	Artist     Name = "Artist"
	Member     Name = "Member"
	Unverified Name = "Unverified"
	Hidden     Name = "Hidden"
)

// Known lists every recognised role in display order.
var Known = []Name{Artist, Member, Unverified, Hidden}

var (
	ErrUnknownRole = errors.New("unknown role")
	ErrUnderflow   = errors.New("role count would drop below zero")
)

func ParseName(s string) (Name, error) {
	for _, n := range Known {
		if strings.EqualFold(string(n), s) {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Binding ties a role name to its guild role and, for counted roles, to
// the channel whose name displays the count.
type Binding struct {
	Name      Name
	RoleID    string
	ChannelID string
}

// Label is the counter channel prefix, e.g. "┇ Members".
func (n Name) Label() string {
	return "┇ " + string(n) + "s"
}

// ChannelName renders the counter channel name for count.
func (n Name) ChannelName(count int) string {
	return fmt.Sprintf("%s : %d", n.Label(), count)
}

// ParseChannelName reads the count back out of a counter channel name.
func ParseChannelName(name string) (int, bool) {
	idx := strings.LastIndex(name, " : ")
	if idx < 0 {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(name[idx+3:]), "%d", &n); err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Verify checks the configured role ids against the guild's roles.
func (d *Directory) Verify(guildRoles []*discordgo.Role) error {
	present := make(map[string]bool, len(guildRoles))
	for _, r := range guildRoles {
		present[r.ID] = true
	}
	var missing []string
	for _, n := range Known {
		e, ok := d.entries[n]
		if !ok {
			continue
		}
		if !present[e.roleID] {
			missing = append(missing, fmt.Sprintf("%s (%s)", n, e.roleID))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: configured roles not found in guild: %s", ErrUnknownRole, strings.Join(missing, ", "))
	}
	return nil
}
