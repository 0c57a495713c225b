package source

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type staticTopic struct {
	title       string
	description string
	hashtag     string
	volume      int
	local       bool
}

var staticTopics = []staticTopic{
	{"AI Revolution", "Artificial Intelligence is transforming the world", "AI", 50000, false},
	{"Turkey News", "Latest news and events from Turkey", "Turkey", 30000, true},
	{"Climate Action", "Global climate change awareness and action", "Climate", 40000, false},
	{"Tech Innovation", "Latest technology innovations and startups", "Tech", 35000, false},
	{"Istanbul", "News and events from Istanbul, Turkey", "Istanbul", 20000, true},
	{"Cryptocurrency", "Digital currency trends and blockchain technology", "Crypto", 45000, false},
	{"Turkish Culture", "Turkish traditions, food, and cultural events", "TurkishCulture", 15000, true},
	{"Space Exploration", "Space missions, astronomy, and cosmic discoveries", "Space", 30000, false},
}

// Static serves a fixed list of evergreen topics. It needs no network and
// keeps a fresh install producing output.
type Static struct {
	now func() time.Time
}

func NewStatic() *Static {
	return &Static{now: time.Now}
}

func (s *Static) Name() Kind              { return KindStatic }
func (s *Static) AuthorityScore() float64 { return 0.3 }

// Fetch rotates the topic list by the hour of day so consecutive cycles
// surface different topics first.
func (s *Static) Fetch(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	offset := now.Hour() % len(staticTopics)
	records := make([]Record, 0, len(staticTopics))
	for i := range staticTopics {
		t := staticTopics[(offset+i)%len(staticTopics)]
		ext := fmt.Sprintf("%s:%s", strings.ToLower(t.hashtag), now.Format("2006010215"))
		records = append(records, Record{
			ID:           RecordID(KindStatic, ext),
			Source:       KindStatic,
			ExternalID:   ext,
			Title:        t.title,
			Description:  t.description,
			URL:          "https://twitter.com/search?q=%23" + t.hashtag,
			SocialVolume: t.volume,
			IsLocal:      t.local,
			IsGlobal:     !t.local,
			CreatedAt:    now,
			Metadata:     map[string]any{"hashtag": "#" + t.hashtag},
		})
	}
	return capLimit(records, limit), nil
}
