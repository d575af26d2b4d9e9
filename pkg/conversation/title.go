package conversation

const (
	PlaceholderTitle = "New Conversation"
	MaxTitleLength   = 50
	TitleEllipsis    = "..."
)

// TruncateTitle cuts content to MaxTitleLength runes, appending TitleEllipsis
// when something was cut.
func TruncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= MaxTitleLength {
		return content
	}
	return string(runes[:MaxTitleLength]) + TitleEllipsis
}

// DeriveTitle computes the title a conversation carries after appending a
// message with the given role and content. Only the first message of a
// conversation can change the title, and only when the user wrote it.
func DeriveTitle(before *Conversation, role Role, content string) string {
	title := PlaceholderTitle
	if before != nil {
		title = before.Title
		if len(before.Messages) > 0 {
			return title
		}
	}
	if role != RoleUser || content == "" {
		return title
	}
	return TruncateTitle(content)
}

// TitleFromMessages recomputes the title of a stored conversation from its
// transcript. It agrees with applying DeriveTitle message by message.
func TitleFromMessages(messages []Message) string {
	if len(messages) == 0 {
		return PlaceholderTitle
	}
	return DeriveTitle(nil, messages[0].Role, messages[0].Content)
}
