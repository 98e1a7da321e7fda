package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// ExtractMentionID returns the id of the first user mention in text.
func ExtractMentionID(text string) string {
	match := mentionPattern.FindStringSubmatch(text)
	if len(match) > 1 {
		return match[1]
	}
	return ""
}

// Mentions reports whether text mentions userID, in either <@id> or the
// legacy nickname <@!id> form.
func Mentions(text, userID string) bool {
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if match[1] == userID {
			return true
		}
	}
	return false
}

func Mention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

func OrdinalSuffix(day int) string {
	if day%100 >= 11 && day%100 <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}

const frameWidth = 32

var (
	frameTop    = strings.Repeat("﹊", frameWidth)
	frameBottom = strings.Repeat("﹎", frameWidth)
)

// Framed renders lines inside the wavy rule used by every direct message
// the bot sends.
func Framed(lines ...string) string {
	return frameTop + "\n" + strings.Join(lines, "\n") + "\n" + frameBottom
}

// Minutes renders a timeout the way prompts state it: "2 minutes",
// "1 minute", or the duration string when it is not whole minutes.
func Minutes(d time.Duration) string {
	if d <= 0 || d%time.Minute != 0 {
		return d.String()
	}
	n := int(d / time.Minute)
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}
