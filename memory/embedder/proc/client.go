package proc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/engram-dev/engram/memory"
)

// Client is a memory.Embedder that forwards requests to the worker child.
//
// The child is spawned lazily on first use and reused until Close. One
// request is in flight at a time; callers are serialized on an internal
// mutex, matching the protocol's single pending-request slot.
type Client struct {
	command string
	args    []string
	dims    int

	mu      sync.Mutex
	started bool
	closed  bool
	child   *exec.Cmd
	send    io.WriteCloser
	recv    *bufio.Scanner
}

var _ memory.Embedder = (*Client)(nil)

// New creates a client that will spawn command args... as the embedding
// worker on first use. dims is the expected vector size.
func New(command string, args []string, dims int) *Client {
	if dims <= 0 {
		dims = memory.DefaultDimensions
	}
	return &Client{command: command, args: args, dims: dims}
}

// Embed converts a single text to an embedding vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed: worker returned %d vectors for 1 text", len(vectors))
	}
	return vectors[0], nil
}

// EmbedBatch converts texts in order. An empty input returns an empty
// result without touching the worker.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("embed: client is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.started {
		if err := c.start(); err != nil {
			return nil, fmt.Errorf("embed: spawn worker %q: %w", c.command, err)
		}
	}

	req := Message{Type: TypeEmbed, Texts: texts}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("embed: encode request: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := c.send.Write(payload); err != nil {
		return nil, fmt.Errorf("embed: %w: write failed: %v", memory.ErrWorkerExited, err)
	}

	for c.recv.Scan() {
		var msg Message
		if err := json.Unmarshal(c.recv.Bytes(), &msg); err != nil {
			// Diagnostic noise on the channel; skip.
			continue
		}
		switch msg.Type {
		case TypeResult:
			return c.checkVectors(msg.Vectors, len(texts))
		case TypeError:
			return nil, fmt.Errorf("embed: worker error: %s", msg.Message)
		default:
			continue
		}
	}
	if err := c.recv.Err(); err != nil {
		return nil, fmt.Errorf("embed: %w while a request was outstanding: %v", memory.ErrWorkerExited, err)
	}
	return nil, fmt.Errorf("embed: %w while a request was outstanding", memory.ErrWorkerExited)
}

// Dimensions returns the expected embedding vector size.
func (c *Client) Dimensions() int { return c.dims }

// Close terminates the worker. A best-effort exit message is sent, but the
// child is killed without a drain wait; the inference runtime cannot exit
// cleanly regardless. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if !c.started {
		return nil
	}

	exit, _ := json.Marshal(Message{Type: TypeExit})
	c.send.Write(append(exit, '\n'))
	c.send.Close()
	if c.child != nil && c.child.Process != nil {
		c.child.Process.Kill()
		c.child.Wait()
	}
	log.Printf("[EMBED] Worker terminated")
	return nil
}

// start spawns the worker and waits for its ready frame.
func (c *Client) start() error {
	cmd := exec.Command(c.command, c.args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	c.child = cmd
	c.send = stdin
	c.recv = newScanner(stdout)
	c.started = true

	for c.recv.Scan() {
		var msg Message
		if err := json.Unmarshal(c.recv.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Type == TypeReady {
			log.Printf("[EMBED] Worker ready (dims=%d)", c.dims)
			return nil
		}
	}
	return fmt.Errorf("%w before signalling readiness", memory.ErrWorkerExited)
}

func (c *Client) checkVectors(vectors [][]float32, want int) ([][]float32, error) {
	if len(vectors) != want {
		return nil, fmt.Errorf("embed: worker returned %d vectors for %d texts", len(vectors), want)
	}
	for i, vec := range vectors {
		if len(vec) != c.dims {
			return nil, memory.DimensionError(c.dims, len(vectors[i]))
		}
	}
	return vectors, nil
}
