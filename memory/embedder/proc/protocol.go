// Package proc runs the embedding model in a separate, killable child
// process and talks to it over newline-delimited JSON on its std streams.
//
// The native inference runtime leaves background worker threads that crash
// when the hosting process exits abruptly; isolating the model in a child
// keeps that instability away from the orchestrator. The protocol is the
// ground truth for interop:
//
//	child -> parent  {"type":"ready"}                       once the model is loaded
//	parent -> child  {"type":"embed","texts":[...]}
//	child -> parent  {"type":"result","vectors":[...]}      matching order
//	child -> parent  {"type":"error","message":"..."}       on failure
//	parent -> child  {"type":"exit"}                        graceful shutdown
//
// Malformed lines on either side (diagnostic output mixed into the channel)
// are skipped silently, never treated as protocol errors.
package proc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// Message type tags.
const (
	TypeReady  = "ready"
	TypeEmbed  = "embed"
	TypeResult = "result"
	TypeError  = "error"
	TypeExit   = "exit"
)

// Message is one protocol frame.
type Message struct {
	Type    string      `json:"type"`
	Texts   []string    `json:"texts,omitempty"`
	Vectors [][]float32 `json:"vectors,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Lines carry whole vector batches, so the scanner buffer has to grow well
// past bufio's default.
const maxLine = 32 << 20

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	return sc
}

// Serve runs the worker side of the protocol: announce readiness, answer
// embed requests with the supplied function, return on an exit message or
// closed input. Worker diagnostics must go to stderr, never to w.
func Serve(r io.Reader, w io.Writer, embed func(texts []string) ([][]float32, error)) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(Message{Type: TypeReady}); err != nil {
		return err
	}

	sc := newScanner(r)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case TypeExit:
			return nil
		case TypeEmbed:
			vectors, err := embed(msg.Texts)
			if err != nil {
				if err := enc.Encode(Message{Type: TypeError, Message: err.Error()}); err != nil {
					return err
				}
				continue
			}
			if vectors == nil {
				vectors = [][]float32{}
			}
			if err := enc.Encode(Message{Type: TypeResult, Vectors: vectors}); err != nil {
				return err
			}
		default:
			// Unknown frame, skip.
		}
	}
	return sc.Err()
}
