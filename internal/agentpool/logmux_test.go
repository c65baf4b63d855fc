package agentpool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogMuxRoutesByAgentContext(t *testing.T) {
	dir := t.TempDir()
	mux := NewLogMultiplexer(dir, zerolog.Nop())
	if err := mux.Register("a1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer mux.Close()

	ctx := WithAgent(context.Background(), "a1")
	mux.Log(ctx, "raw provider response")

	data, err := os.ReadFile(filepath.Join(dir, "a1", "raw.log"))
	if err != nil {
		t.Fatalf("reading raw log: %v", err)
	}
	if !strings.Contains(string(data), "raw provider response") {
		t.Fatalf("expected the raw line in a1's log, got: %s", data)
	}
	if !strings.Contains(string(data), `"agent_id":"a1"`) {
		t.Fatalf("expected agent_id tag, got: %s", data)
	}
}

func TestLogMuxSkipsUnregisteredAgentWithoutPanicking(t *testing.T) {
	mux := NewLogMultiplexer(t.TempDir(), zerolog.Nop())
	ctx := WithAgent(context.Background(), "ghost")
	mux.Log(ctx, "should not panic")
}

func TestLogMuxSkipsContextWithNoAgentTag(t *testing.T) {
	mux := NewLogMultiplexer(t.TempDir(), zerolog.Nop())
	mux.Log(context.Background(), "untagged")
}

func TestLogMuxUnregisterClosesStream(t *testing.T) {
	dir := t.TempDir()
	mux := NewLogMultiplexer(dir, zerolog.Nop())
	mux.Register("a1")
	mux.Unregister("a1")

	ctx := WithAgent(context.Background(), "a1")
	mux.Log(ctx, "post-unregister line")

	data, err := os.ReadFile(filepath.Join(dir, "a1", "raw.log"))
	if err != nil {
		t.Fatalf("reading raw log: %v", err)
	}
	if strings.Contains(string(data), "post-unregister line") {
		t.Fatal("expected no write after unregister")
	}
}
