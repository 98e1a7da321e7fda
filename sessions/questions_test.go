package sessions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAge(t *testing.T) {
	tests := []struct {
		in      string
		wantErr string
	}{
		{in: "18"},
		{in: "42"},
		{in: "99999999999999999999"},
		{in: "17", wantErr: "at least 18"},
		{in: "0", wantErr: "at least 18"},
		{in: "abc", wantErr: "as a number"},
		{in: "-5", wantErr: "as a number"},
		{in: "+20", wantErr: "as a number"},
		{in: "18.5", wantErr: "as a number"},
		{in: "", wantErr: "as a number"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := ValidateAge(tt.in)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Reason, tt.wantErr)
		})
	}
}

func TestValidateText(t *testing.T) {
	assert.Error(t, ValidateText(strings.Repeat("a", 9)))
	assert.NoError(t, ValidateText(strings.Repeat("a", 10)))
	assert.NoError(t, ValidateText(strings.Repeat("a", 200)))

	err := ValidateText(strings.Repeat("a", 201))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "The answer must contain between 10 and 200 characters (currently 201).", verr.Reason)

	// Characters, not bytes.
	assert.NoError(t, ValidateText(strings.Repeat("ż", 10)))
	assert.Error(t, ValidateText(strings.Repeat("ż", 9)))
}

func TestQuestionsReturnsCopy(t *testing.T) {
	qs := Questions()
	require.Len(t, qs, 3)
	assert.Equal(t, "How old are you?", qs[0].Prompt)

	qs[0].Prompt = "changed"
	assert.Equal(t, "How old are you?", Questions()[0].Prompt)
}
