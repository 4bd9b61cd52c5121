package proc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/engram-dev/engram/memory"
)

const testDims = 3

// testEmbed is a deterministic stand-in for the model: component j of
// text i's vector is len(text)+j.
func testEmbed(texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDims)
		for j := range vec {
			vec[j] = float32(len(text) + j)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// newPipedClient wires a Client to an in-process worker over OS pipes,
// bypassing process spawning. os.Pipe buffers in the kernel, so the worker
// can announce readiness before the client starts reading. The worker
// function receives the client's outgoing stream and a writer for its
// replies; its write end is closed when it returns, which the client sees
// as worker death.
func newPipedClient(t *testing.T, dims int, worker func(in io.Reader, out io.Writer)) *Client {
	t.Helper()
	workerRead, clientWrite, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	clientRead, workerWrite, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		worker(workerRead, workerWrite)
		workerWrite.Close()
		workerRead.Close()
	}()
	c := &Client{
		dims:    dims,
		started: true,
		send:    clientWrite,
		recv:    newScanner(clientRead),
	}
	t.Cleanup(func() {
		c.Close()
		clientRead.Close()
	})
	return c
}

func TestClientServeRoundTrip(t *testing.T) {
	c := newPipedClient(t, testDims, func(in io.Reader, out io.Writer) {
		Serve(in, out, testEmbed)
	})

	vectors, err := c.EmbedBatch(context.Background(), []string{"ab", "hello"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if vectors[0][0] != 2 || vectors[1][0] != 5 {
		t.Errorf("vectors out of order: %v", vectors)
	}

	vec, err := c.Embed(context.Background(), "xyz")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != testDims || vec[0] != 3 {
		t.Errorf("Embed returned %v", vec)
	}
}

func TestClientReportsWorkerError(t *testing.T) {
	c := newPipedClient(t, testDims, func(in io.Reader, out io.Writer) {
		Serve(in, out, func([]string) ([][]float32, error) {
			return nil, fmt.Errorf("model blew up")
		})
	})

	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "model blew up") {
		t.Fatalf("expected worker error to surface, got %v", err)
	}
}

func TestClientSkipsDiagnosticNoise(t *testing.T) {
	c := newPipedClient(t, testDims, func(in io.Reader, out io.Writer) {
		sc := newScanner(in)
		fmt.Fprintln(out, "loading model weights...")
		fmt.Fprintln(out, `{"type":"ready"}`)
		for sc.Scan() {
			fmt.Fprintln(out, "inference pass complete")
			fmt.Fprintln(out, `{"unknown":"frame"}`)
			fmt.Fprintln(out, `{"type":"result","vectors":[[1,2,3]]}`)
		}
	})

	vectors, err := c.EmbedBatch(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 1 || vectors[0][2] != 3 {
		t.Errorf("got %v", vectors)
	}
}

func TestClientWorkerExitFailsPendingRequest(t *testing.T) {
	c := newPipedClient(t, testDims, func(in io.Reader, out io.Writer) {
		// Read the request, then die without answering.
		newScanner(in).Scan()
	})

	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	if !errors.Is(err, memory.ErrWorkerExited) {
		t.Fatalf("expected ErrWorkerExited, got %v", err)
	}
}

func TestClientVectorCountMismatch(t *testing.T) {
	c := newPipedClient(t, testDims, func(in io.Reader, out io.Writer) {
		sc := newScanner(in)
		for sc.Scan() {
			fmt.Fprintln(out, `{"type":"result","vectors":[[1,2,3]]}`)
		}
	})

	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "1 vectors for 2 texts") {
		t.Fatalf("expected count mismatch error, got %v", err)
	}
}

func TestClientVectorDimensionMismatch(t *testing.T) {
	c := newPipedClient(t, testDims, func(in io.Reader, out io.Writer) {
		sc := newScanner(in)
		for sc.Scan() {
			fmt.Fprintln(out, `{"type":"result","vectors":[[1,2]]}`)
		}
	})

	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	if !errors.Is(err, memory.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestClientEmptyBatchDoesNotSpawn(t *testing.T) {
	// A nonexistent command would fail any spawn attempt.
	c := New("/nonexistent/embed-worker", nil, testDims)
	vectors, err := c.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty batch errored: %v", err)
	}
	if len(vectors) != 0 {
		t.Fatalf("got %v", vectors)
	}
}

func TestClientSpawnFailure(t *testing.T) {
	c := New("/nonexistent/embed-worker", nil, testDims)
	defer c.Close()
	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "spawn worker") {
		t.Fatalf("expected spawn failure, got %v", err)
	}
}

func TestClientCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New("/nonexistent/embed-worker", nil, testDims)
	if _, err := c.EmbedBatch(ctx, []string{"x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	c := newPipedClient(t, testDims, func(in io.Reader, out io.Writer) {
		Serve(in, out, testEmbed)
	})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := c.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Error("EmbedBatch succeeded on closed client")
	}
}

func TestClientDefaultDimensions(t *testing.T) {
	c := New("worker", nil, 0)
	if c.Dimensions() != memory.DefaultDimensions {
		t.Errorf("Dimensions() = %d, want %d", c.Dimensions(), memory.DefaultDimensions)
	}
}

func TestServeProtocol(t *testing.T) {
	input := strings.Join([]string{
		"",
		"not json at all",
		`{"type":"embed","texts":["hi"]}`,
		`{"type":"bogus"}`,
		`{"type":"exit"}`,
		`{"type":"embed","texts":["never reached"]}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	err := Serve(strings.NewReader(input), &out, testEmbed)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var frames []Message
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var msg Message
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			t.Fatalf("worker wrote malformed frame %q", sc.Text())
		}
		frames = append(frames, msg)
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want ready+result: %+v", len(frames), frames)
	}
	if frames[0].Type != TypeReady {
		t.Errorf("first frame %q, want ready", frames[0].Type)
	}
	if frames[1].Type != TypeResult || len(frames[1].Vectors) != 1 {
		t.Errorf("second frame %+v, want one-vector result", frames[1])
	}
}

func TestServeEmbedFailure(t *testing.T) {
	input := `{"type":"embed","texts":["x"]}` + "\n" + `{"type":"exit"}` + "\n"
	var out bytes.Buffer
	err := Serve(strings.NewReader(input), &out, func([]string) ([][]float32, error) {
		return nil, fmt.Errorf("no tokenizer")
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !strings.Contains(out.String(), `"type":"error"`) || !strings.Contains(out.String(), "no tokenizer") {
		t.Errorf("error frame missing from output: %s", out.String())
	}
}

func TestServeClosedInput(t *testing.T) {
	var out bytes.Buffer
	if err := Serve(strings.NewReader(""), &out, testEmbed); err != nil {
		t.Fatalf("Serve on closed input: %v", err)
	}
	if !strings.Contains(out.String(), `"type":"ready"`) {
		t.Error("ready frame not announced")
	}
}
