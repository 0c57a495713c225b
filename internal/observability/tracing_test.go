package observability

import (
	"context"
	"testing"

	"github.com/elonfeng/trendx/internal/config"
	"github.com/rs/zerolog"
)

func TestInitTracerDisabled(t *testing.T) {
	t.Parallel()

	shutdown, err := InitTracer(context.Background(), config.TracingConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
