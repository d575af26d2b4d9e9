package conversation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTitleShortUserMessage(t *testing.T) {
	c := New("c1", time.Now())
	content := "Analyze the problem of food waste in restaurants"

	require.Equal(t, content, DeriveTitle(c, RoleUser, content))
}

func TestDeriveTitleTruncatesLongContent(t *testing.T) {
	c := New("c1", time.Now())
	content := strings.Repeat("abcdefghij", 8)
	require.Len(t, content, 80)

	title := DeriveTitle(c, RoleUser, content)
	require.Equal(t, content[:50]+TitleEllipsis, title)
}

func TestDeriveTitleCountsRunes(t *testing.T) {
	content := strings.Repeat("é", 50)
	require.Equal(t, content, TruncateTitle(content))

	content = strings.Repeat("日本", 30)
	title := TruncateTitle(content)
	require.Equal(t, string([]rune(content)[:50])+TitleEllipsis, title)
}

func TestDeriveTitleFrozenAfterFirstMessage(t *testing.T) {
	c := New("c1", time.Now())
	c.Title = "first question"
	c.Messages = append(c.Messages, Message{ID: "m1", Role: RoleUser, Content: "first question"})

	require.Equal(t, "first question", DeriveTitle(c, RoleUser, "second question"))
}

func TestDeriveTitleIgnoresAssistant(t *testing.T) {
	c := New("c1", time.Now())
	require.Equal(t, PlaceholderTitle, DeriveTitle(c, RoleAssistant, "hello there"))
	require.Equal(t, PlaceholderTitle, DeriveTitle(c, RoleUser, ""))
}

func TestTitleFromMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		expected string
	}{
		{name: "empty", expected: PlaceholderTitle},
		{
			name:     "user first",
			messages: []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
			expected: "hi",
		},
		{
			name:     "assistant first",
			messages: []Message{{Role: RoleAssistant, Content: "welcome"}, {Role: RoleUser, Content: "hi"}},
			expected: PlaceholderTitle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TitleFromMessages(tt.messages))
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	c := New("c1", time.Now())
	c.Messages = append(c.Messages, Message{ID: "m1", Role: RoleUser, Content: "hi"})

	cp := c.Clone()
	cp.Messages[0].Content = "mutated"
	cp.Messages = append(cp.Messages, Message{ID: "m2"})

	require.Equal(t, "hi", c.Messages[0].Content)
	require.Len(t, c.Messages, 1)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" User ")
	require.NoError(t, err)
	require.Equal(t, RoleUser, r)

	_, err = ParseRole("system")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidRole))
}

func TestAsBackendError(t *testing.T) {
	nf := &NotFoundError{ID: "x"}
	require.Same(t, nf, AsBackendError("append", nf).(*NotFoundError))

	err := AsBackendError("list", errors.New("connection refused"))
	require.True(t, errors.Is(err, ErrBackendUnavailable))
	require.Contains(t, err.Error(), "connection refused")
	require.Nil(t, AsBackendError("list", nil))
}
