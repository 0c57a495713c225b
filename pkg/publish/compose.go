package publish

import (
	"strings"
	"unicode/utf8"

	"github.com/elonfeng/trendx/pkg/content"
)

// MaxPostRunes is the X/Twitter post length limit.
const MaxPostRunes = 280

// Compose builds the post text: the local text, followed by the hashtags
// when they still fit within MaxPostRunes.
func Compose(c *content.Content) string {
	text := c.LocalText
	if len(c.Hashtags) == 0 {
		return text
	}
	withTags := text + " " + strings.Join(c.Hashtags, " ")
	if utf8.RuneCountInString(withTags) <= MaxPostRunes {
		return withTags
	}
	return text
}
