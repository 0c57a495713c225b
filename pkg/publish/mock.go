package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elonfeng/trendx/pkg/content"
	"github.com/rs/zerolog"
)

// Post is a post recorded by the mock publisher.
type Post struct {
	ID        string
	Text      string
	ReplyTo   string
	QuoteID   string
	CreatedAt time.Time
}

// Mock records posts in memory instead of sending them.
type Mock struct {
	logger zerolog.Logger

	mu    sync.Mutex
	posts []Post
	fail  error
}

func NewMock(logger zerolog.Logger) *Mock {
	return &Mock{logger: logger}
}

func (m *Mock) Name() string { return "mock" }

// FailWith makes every following Publish return err. A nil err restores
// normal behavior.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Posts returns a copy of the recorded posts.
func (m *Mock) Posts() []Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Post(nil), m.posts...)
}

func (m *Mock) Publish(ctx context.Context, c *content.Content) (*Result, error) {
	return m.publish(ctx, c, "")
}

func (m *Mock) PublishThread(ctx context.Context, posts []*content.Content) ([]*Result, error) {
	results := make([]*Result, 0, len(posts))
	replyTo := ""
	for i, c := range posts {
		res, err := m.publish(ctx, c, replyTo)
		if err != nil {
			return results, fmt.Errorf("thread post %d: %w", i+1, err)
		}
		results = append(results, res)
		replyTo = res.PostID
	}
	return results, nil
}

func (m *Mock) publish(ctx context.Context, c *content.Content, replyTo string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}

	post := Post{
		ID:        fmt.Sprintf("mock_%d", len(m.posts)+1),
		Text:      Compose(c),
		ReplyTo:   replyTo,
		QuoteID:   c.QuoteTweetID,
		CreatedAt: time.Now().UTC(),
	}
	m.posts = append(m.posts, post)
	m.logger.Info().Str("post_id", post.ID).Int("length", len([]rune(post.Text))).Msg("mock post published")

	return &Result{
		Success:  true,
		PostID:   post.ID,
		Response: map[string]any{"text": post.Text},
	}, nil
}
