package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/elonfeng/trendx/pkg/content"
)

// ErrDailyLimit is returned when the daily post budget is spent.
var ErrDailyLimit = errors.New("daily post limit reached")

// Result describes one published post.
type Result struct {
	Success  bool           `json:"success"`
	PostID   string         `json:"post_id,omitempty"`
	URL      string         `json:"url,omitempty"`
	Error    string         `json:"error,omitempty"`
	Response map[string]any `json:"response,omitempty"`
}

// Publisher delivers generated content to a destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, c *content.Content) (*Result, error)
	// PublishThread publishes posts in order. It stops at the first
	// failure and returns the results delivered so far.
	PublishThread(ctx context.Context, posts []*content.Content) ([]*Result, error)
}

// publishEach is the PublishThread of destinations without reply chains.
func publishEach(ctx context.Context, p Publisher, posts []*content.Content) ([]*Result, error) {
	results := make([]*Result, 0, len(posts))
	for i, c := range posts {
		res, err := p.Publish(ctx, c)
		if err != nil {
			return results, fmt.Errorf("thread post %d: %w", i+1, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Multi broadcasts to several publishers.
type Multi struct {
	publishers []Publisher
}

// NewMulti creates a broadcasting publisher.
func NewMulti(publishers ...Publisher) *Multi {
	return &Multi{publishers: publishers}
}

// Name joins the destination names, e.g. "x+slack".
func (m *Multi) Name() string {
	names := make([]string, len(m.publishers))
	for i, p := range m.publishers {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}

// Len returns the number of destinations.
func (m *Multi) Len() int { return len(m.publishers) }

// Publish sends c to every destination. It succeeds when at least one
// destination accepted the post and returns that destination's result;
// the errors of the others are joined.
func (m *Multi) Publish(ctx context.Context, c *content.Content) (*Result, error) {
	var (
		first *Result
		errs  []error
	)
	for _, p := range m.publishers {
		res, err := p.Publish(ctx, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if first == nil {
			first = res
		}
	}
	if first == nil {
		if len(errs) == 0 {
			return nil, errors.New("no publishers configured")
		}
		return nil, errors.Join(errs...)
	}
	if len(errs) > 0 {
		first.Error = errors.Join(errs...).Error()
	}
	return first, nil
}

func (m *Multi) PublishThread(ctx context.Context, posts []*content.Content) ([]*Result, error) {
	return publishEach(ctx, m, posts)
}
