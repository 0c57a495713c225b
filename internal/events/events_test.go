package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/elonfeng/trendx/internal/config"
	"github.com/rs/zerolog"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestNATSPublishPrefixesSubject(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	bus := newNATS(fc, "trendx.", zerolog.Nop())
	ev := PostPublished{QueueID: 7, ContentID: "c1", PostID: "p1", Publisher: "mock"}
	if err := bus.Publish(context.Background(), SubjectPostPublished, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(fc.subjects) != 1 || fc.subjects[0] != "trendx.posts.published" {
		t.Fatalf("subjects = %v", fc.subjects)
	}
	var got PostPublished
	if err := json.Unmarshal(fc.payloads[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.QueueID != 7 || got.PostID != "p1" {
		t.Fatalf("payload = %+v", got)
	}

	if err := bus.Close(); err != nil || !fc.drained {
		t.Fatalf("Close: %v drained=%v", err, fc.drained)
	}
}

func TestNATSPublishErrors(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{err: errors.New("no responders")}
	bus := newNATS(fc, "", zerolog.Nop())
	if bus.Subject("a.b") != "a.b" {
		t.Fatalf("unexpected subject %q", bus.Subject("a.b"))
	}
	if err := bus.Publish(context.Background(), "x", 1); err == nil {
		t.Fatal("expected publish error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newNATS(&fakeConn{}, "p", zerolog.Nop()).Publish(ctx, "x", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewDisabledIsNop(t *testing.T) {
	t.Parallel()

	bus, err := New(config.EventsConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := bus.(Nop); !ok {
		t.Fatalf("expected Nop, got %T", bus)
	}
	if err := bus.Publish(context.Background(), SubjectTrendsCollected, TrendsCollected{}); err != nil {
		t.Fatalf("Nop publish: %v", err)
	}
}
