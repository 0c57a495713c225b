package content

import (
	"context"
	"unicode/utf8"

	"github.com/elonfeng/trendx/pkg/source"
	"github.com/rs/zerolog"
)

const maxHashtags = 5

type postTemplate struct {
	local    string
	english  string
	hashtags []string
}

var templates = map[source.Kind]postTemplate{
	source.KindReddit: {
		local:    "Reddit'te trend olan bu konu hakkında daha fazla bilgi edinin.",
		english:  "This trending topic on Reddit is worth following.",
		hashtags: []string{"#Reddit", "#Trending", "#News"},
	},
	source.KindGoogleTrends: {
		local:    "Google'da trend olan bu konu dikkat çekiyor.",
		english:  "This topic is trending on Google and gaining attention.",
		hashtags: []string{"#GoogleTrends", "#Trending", "#Search"},
	},
}

var defaultTemplate = postTemplate{
	local:    "Bu konu şu anda gündemde ve takip edilmeye değer.",
	english:  "This topic is currently trending and worth following.",
	hashtags: []string{"#Trending", "#News", "#Update"},
}

var sourceTags = map[source.Kind]string{
	source.KindReddit:       "#Reddit",
	source.KindGoogleTrends: "#GoogleTrends",
}

// Template generates posts from fixed per-source texts. It needs no
// network access and never fails.
type Template struct {
	logger zerolog.Logger
}

func NewTemplate(logger zerolog.Logger) *Template {
	return &Template{logger: logger}
}

func (t *Template) Name() string { return GeneratorTemplate }

func (t *Template) Generate(ctx context.Context, r source.Record) (*Content, error) {
	tpl, ok := templates[r.Source]
	if !ok {
		tpl = defaultTemplate
	}

	c := newContent(r, GeneratorTemplate)
	c.LocalText = withTitle(r.Title, tpl.local)
	c.EnglishText = withTitle(r.Title, tpl.english)
	c.Hashtags = hashtagsFor(tpl.hashtags, r)

	t.logger.Debug().Str("record_id", r.ID).Msg("generated template content")
	return c, nil
}

// withTitle prefixes short titles to the body.
func withTitle(title, body string) string {
	if title != "" && utf8.RuneCountInString(title) < 100 {
		return title + "\n\n" + body
	}
	return body
}

// hashtagsFor extends base with audience and source tags, de-duplicated and
// capped at maxHashtags.
func hashtagsFor(base []string, r source.Record) []string {
	tags := append([]string(nil), base...)
	if r.IsLocal {
		tags = append(tags, "#Turkey", "#Türkiye")
	}
	if r.IsGlobal {
		tags = append(tags, "#Global")
	}
	if tag, ok := sourceTags[r.Source]; ok {
		tags = append(tags, tag)
	}
	return capTags(tags)
}

func capTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, maxHashtags)
	for _, tag := range tags {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == maxHashtags {
			break
		}
	}
	return out
}
