package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MaxStdioLineLength bounds a single newline-delimited JSON message read
// from a subprocess's stdout (spec.md §4.9).
const MaxStdioLineLength = 10 * 1024 * 1024

// stderrRingLines bounds the diagnostic stderr ring buffer.
const stderrRingLines = 20

// envAllowList are the safe keys inherited from the host process
// unconditionally; anything else (notably API keys/tokens/secrets) must be
// named explicitly via Env or EnvPassthrough (spec.md §4.9).
var envAllowList = []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "LC_CTYPE", "LC_MESSAGES"}

// StdioConfig configures a StdioTransport.
type StdioConfig struct {
	Command []string
	// Env is merged in verbatim regardless of the allow-list.
	Env map[string]string
	// EnvPassthrough forwards named host-process variables not already on
	// the allow-list.
	EnvPassthrough []string
	Cwd            string
	Logger         zerolog.Logger
}

// StdioTransport launches an MCP server as a subprocess and exchanges
// newline-delimited JSON-RPC over stdin/stdout, grounded on
// original_source/nexus3/mcp/transport.py's StdioTransport.
type StdioTransport struct {
	cfg StdioConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	stderr  *ringBuffer
	wg      sync.WaitGroup
	closed  bool
}

// NewStdioTransport builds a transport from cfg.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	return &StdioTransport{cfg: cfg, stderr: newRingBuffer(stderrRingLines)}
}

// buildEnv constructs the subprocess environment per spec.md §4.9: allow-
// listed host keys, explicit env map, and explicit passthrough names. API
// keys/tokens/secrets are never inherited implicitly.
func buildEnv(cfg StdioConfig) []string {
	out := make(map[string]string)
	for _, key := range envAllowList {
		if v, ok := os.LookupEnv(key); ok {
			out[key] = v
		}
	}
	for _, key := range cfg.EnvPassthrough {
		if v, ok := os.LookupEnv(key); ok {
			out[key] = v
		}
	}
	for k, v := range cfg.Env {
		out[k] = v
	}
	env := make([]string, 0, len(out))
	for k, v := range out {
		env = append(env, k+"="+v)
	}
	return env
}

// Connect starts the subprocess and its background stderr drain.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if len(t.cfg.Command) == 0 {
		return fmt.Errorf("stdio transport: empty command")
	}
	cmd := exec.CommandContext(ctx, t.cfg.Command[0], t.cfg.Command[1:]...)
	cmd.Env = buildEnv(t.cfg)
	cmd.Dir = t.cfg.Cwd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdio transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdio transport: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stdio transport: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("stdio transport: starting %q: %w", t.cfg.Command[0], err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.stdout = bufio.NewReaderSize(stdout, 64*1024)
	t.mu.Unlock()

	t.wg.Add(1)
	go t.drainStderr(stderr)

	return nil
}

// drainStderr captures stderr into the bounded ring buffer. Any read error
// exits the loop and is logged at debug; normal EOF does not log
// (spec.md §4.9).
func (t *StdioTransport) drainStderr(r io.Reader) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxStdioLineLength)
	for scanner.Scan() {
		t.mu.Lock()
		t.stderr.add(scanner.Text())
		t.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		t.cfg.Logger.Debug().Err(err).Msg("mcp stdio stderr reader exiting")
	}
}

// StderrLines returns a snapshot of captured stderr diagnostic lines.
func (t *StdioTransport) StderrLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stderr.Lines()
}

// Send writes one newline-delimited JSON message to stdin.
func (t *StdioTransport) Send(ctx context.Context, msg map[string]any) error {
	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("stdio transport: not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("stdio transport: marshaling message: %w", err)
	}
	data = append(data, '\n')
	_, err = stdin.Write(data)
	if err != nil {
		return fmt.Errorf("stdio transport: writing to stdin: %w", err)
	}
	return nil
}

// Receive reads one newline-delimited JSON message from stdout, bounded at
// MaxStdioLineLength.
func (t *StdioTransport) Receive(ctx context.Context) (map[string]any, error) {
	t.mu.Lock()
	stdout := t.stdout
	cmd := t.cmd
	t.mu.Unlock()
	if stdout == nil {
		return nil, fmt.Errorf("stdio transport: not connected")
	}

	line, err := readBoundedLine(stdout, MaxStdioLineLength)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		exitCode := -1
		if cmd != nil && cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		return nil, fmt.Errorf("mcp server closed (exit code: %d)", exitCode)
	}

	var msg map[string]any
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("stdio transport: invalid JSON from server: %w", err)
	}
	return msg, nil
}

// readBoundedLine accumulates bytes from r until a newline or until the
// buffer exceeds maxLen, at which point it fails with an error naming the
// limit (spec.md §4.9). EOF with no accumulated bytes returns (nil, nil):
// this is normal, not an error — callers that expect a message in response
// to that EOF (Receive, above) are responsible for turning an empty read
// into their own "connection closed" error at their layer.
func readBoundedLine(r *bufio.Reader, maxLen int) ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if len(chunk) > 0 {
			buf = append(buf, chunk...)
			if len(buf) > maxLen {
				return nil, fmt.Errorf("stdio line exceeds maximum length of %d bytes", maxLen)
			}
		}
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return nil, fmt.Errorf("reading line: %w", err)
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

// Close terminates the subprocess: closes stdin, waits up to 2 s for a
// clean exit, then kills the process and waits up to 2 s more (spec.md
// §4.9's shutdown sequence).
func (t *StdioTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	stdin := t.stdin
	cmd := t.cmd
	t.mu.Unlock()

	if stdin != nil {
		if err := stdin.Close(); err != nil {
			t.cfg.Logger.Debug().Err(err).Msg("closing mcp stdin failed; expected during shutdown")
		}
	}

	if cmd != nil && cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
			}
		}
	}

	t.wg.Wait()

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// IsConnected reports whether the subprocess is running.
func (t *StdioTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.closed {
		return false
	}
	return t.cmd.ProcessState == nil
}

var _ MessageTransport = (*StdioTransport)(nil)
