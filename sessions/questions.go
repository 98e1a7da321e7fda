package sessions

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

const (
	MinAnswerLength = 10
	MaxAnswerLength = 200
	LegalAge        = 18
)

// ValidationError carries the warning shown to the applicant.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

type Question struct {
	Prompt   string
	Validate func(answer string) error
}

// questions is the fixed interview, asked in order.
var questions = []Question{
	{Prompt: "How old are you?", Validate: ValidateAge},
	{Prompt: "Why would you like to join the server?", Validate: ValidateText},
	{Prompt: "How did you find out about this server?", Validate: ValidateText},
}

// Questions returns a copy of the interview questions in the order asked.
func Questions() []Question {
	return append([]Question(nil), questions...)
}

// ValidateAge accepts a plain non-negative integer of at least LegalAge.
// Signs, spaces and decimals are not numbers here.
func ValidateAge(answer string) error {
	if answer == "" {
		return &ValidationError{Reason: "Please provide your age as a number (e.g. **23**)."}
	}
	for _, r := range answer {
		if r < '0' || r > '9' {
			return &ValidationError{Reason: "Please provide your age as a number (e.g. **23**)."}
		}
	}
	age, err := strconv.ParseUint(answer, 10, 32)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return &ValidationError{Reason: "Please provide your age as a number (e.g. **23**)."}
	}
	if err == nil && age < LegalAge {
		return &ValidationError{Reason: fmt.Sprintf("You must be at least %d years old to pass the verification.", LegalAge)}
	}
	return nil
}

// ValidateText bounds a free-text answer by its length in characters.
func ValidateText(answer string) error {
	n := utf8.RuneCountInString(answer)
	if n < MinAnswerLength || n > MaxAnswerLength {
		return &ValidationError{Reason: fmt.Sprintf(
			"The answer must contain between %d and %d characters (currently %d).",
			MinAnswerLength, MaxAnswerLength, n)}
	}
	return nil
}
