package applications

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"gatekeeper/datastructs"
	"gatekeeper/utils"
)

const (
	formTitle       = "Verification form"
	formColor       = 0x00EEFF
	announceTitle   = "New Member"
	announceColor   = 0xFFEE00
	AcceptGlyph     = "✅"
	RejectGlyph     = "❌"
	applicantPrefix = "User: "
	submittedLayout = "15:04"
)

// Render builds the review post for a completed interview.
func Render(app datastructs.Application) *discordgo.MessageEmbed {
	blocks := make([]string, 0, len(app.Answers))
	for _, a := range app.Answers {
		blocks = append(blocks, fmt.Sprintf("**%s**\n%s", a.Question, a.Text))
	}

	return &discordgo.MessageEmbed{
		Title:       formTitle,
		Description: applicantPrefix + utils.Mention(app.ApplicantID) + "\n\n" + strings.Join(blocks, "\n\n"),
		Color:       formColor,
		Footer: &discordgo.MessageEmbedFooter{
			Text: submittedOn(app.SubmittedAt),
		},
		Timestamp: app.SubmittedAt.Format(time.RFC3339),
	}
}

func submittedOn(t time.Time) string {
	day := t.Day()
	return fmt.Sprintf("Submitted on the %d%s of %s %d at %s",
		day, utils.OrdinalSuffix(day), t.Month().String(), t.Year(), t.Format(submittedLayout))
}

// Announcement is the public welcome post for an accepted applicant.
func Announcement(applicantID string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       announceTitle,
		Description: applicantPrefix + utils.Mention(applicantID) + "\n\nHas joined to our server!",
		Color:       announceColor,
	}
}

// applicantOf extracts the applicant from a review post, looking at the
// embed first and the plain content second.
func applicantOf(msg *discordgo.Message) string {
	for _, e := range msg.Embeds {
		if e == nil {
			continue
		}
		if id := utils.ExtractMentionID(e.Description); id != "" {
			return id
		}
	}
	return utils.ExtractMentionID(msg.Content)
}

var (
	acceptedNotice = utils.Framed(
		"## Your verification has been **accepted**.",
		"Welcome to the server!",
	)
	reasonBusy = utils.Framed(
		"You are already writing a rejection reason.",
		"Finish that one first, then react again.",
	)
)

func reasonPrompt(timeout time.Duration) string {
	return utils.Framed(
		"## You have rejected the verification.",
		fmt.Sprintf("Write the **reason** below (you have %s).", utils.Minutes(timeout)),
	)
}

func reasonTimeUp(timeout time.Duration) string {
	return utils.Framed(
		fmt.Sprintf("Time’s up (%s).", utils.Minutes(timeout)),
		"If you still want to reject this verification, add the emoji once again.",
	)
}

func deniedNotice(reason string) string {
	return utils.Framed(
		"## Your verification has been denied",
		"**Reason:** "+reason,
	)
}

func undeliveredNotice(applicantID string) string {
	return utils.Framed(
		"The rejection was recorded, but " + utils.Mention(applicantID) + " could not be notified.",
	)
}
