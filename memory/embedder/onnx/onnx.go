//go:build onnx

// Package onnx embeds text with a local all-MiniLM-L6-v2 model through
// ONNX Runtime. It is built only under the onnx tag because linking the
// runtime requires its shared library; the engram embed-worker subcommand
// is its sole production caller, keeping the runtime's unstable background
// threads inside the killable worker process.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/engram-dev/engram/memory"
)

// maxSeq is the model's sequence length; longer inputs are truncated.
const maxSeq = 128

// Config configures the embedder.
type Config struct {
	// ModelPath is the ONNX model file.
	ModelPath string

	// TokenizerPath is the tokenizer.json with the WordPiece vocab.
	TokenizerPath string

	// LibraryPath optionally points at libonnxruntime; empty leaves the
	// runtime's default lookup in place.
	LibraryPath string

	// Dimensions is the embedding size (default 384 for MiniLM).
	Dimensions int
}

// Embedder runs MiniLM inference in-process.
type Embedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPieceTokenizer
	dims      int
}

var _ memory.Embedder = (*Embedder)(nil)

// New loads the tokenizer, initializes the runtime and opens an inference
// session.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: ModelPath is required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = memory.DefaultDimensions
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	tokenizer, err := loadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &Embedder{session: session, tokenizer: tokenizer, dims: cfg.Dimensions}, nil
}

// Embed converts text to a mean-pooled, L2-normalized embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	inputIDs := make([]int64, maxSeq)
	attention := make([]int64, maxSeq)
	tokenTypes := make([]int64, maxSeq)

	tokens := e.tokenizer.tokenize(text)
	if len(tokens) > maxSeq-2 {
		tokens = tokens[:maxSeq-2]
	}
	inputIDs[0] = int64(e.tokenizer.cls)
	attention[0] = 1
	for i, tok := range tokens {
		inputIDs[i+1] = tok
		attention[i+1] = 1
	}
	inputIDs[len(tokens)+1] = int64(e.tokenizer.sep)
	attention[len(tokens)+1] = 1

	shape := ort.NewShape(1, int64(maxSeq))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenTypes)
	if err != nil {
		return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: unexpected output tensor type")
	}
	return e.pool(hidden, attention)
}

// EmbedBatch converts texts in order. An empty input returns an empty
// result without running the model.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int { return e.dims }

// Close destroys the inference session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// pool mean-pools the hidden states over attended tokens and normalizes.
func (e *Embedder) pool(hidden *ort.Tensor[float32], attention []int64) ([]float32, error) {
	data := hidden.GetData()
	shape := hidden.GetShape()

	vec := make([]float32, e.dims)
	switch len(shape) {
	case 2:
		// Model already pooled: [1, dims].
		if len(data) < e.dims {
			return nil, fmt.Errorf("onnx: output dimension mismatch: got %d, expected %d", len(data), e.dims)
		}
		copy(vec, data[:e.dims])
	case 3:
		// [1, seq, dims] mean-pooled over attended positions.
		seq, dims := int(shape[1]), int(shape[2])
		if dims != e.dims {
			return nil, fmt.Errorf("onnx: hidden size mismatch: got %d, expected %d", dims, e.dims)
		}
		var attended float32
		for i := 0; i < seq && i < len(attention); i++ {
			if attention[i] == 0 {
				continue
			}
			attended++
			offset := i * dims
			for j := 0; j < dims; j++ {
				vec[j] += data[offset+j]
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("onnx: no attended tokens")
		}
		for j := range vec {
			vec[j] /= attended
		}
	default:
		return nil, fmt.Errorf("onnx: unexpected output shape %v", shape)
	}

	normalize(vec)
	return vec, nil
}

// normalize scales vec to unit length in place.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// wordPieceTokenizer is a minimal BERT WordPiece tokenizer driven by the
// model's tokenizer.json vocab.
type wordPieceTokenizer struct {
	vocab map[string]int
	cls   int
	sep   int
	unk   int
}

func loadTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocab in %s", path)
	}

	return &wordPieceTokenizer{
		vocab: file.Model.Vocab,
		cls:   101, // [CLS]
		sep:   102, // [SEP]
		unk:   100, // [UNK]
	}, nil
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, piece := range t.split(word) {
			if id, ok := t.vocab[piece]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unk))
			}
		}
	}
	return tokens
}

// split applies greedy longest-prefix WordPiece segmentation.
func (t *wordPieceTokenizer) split(word string) []string {
	var pieces []string
	start := 0
	for start < len(word) {
		end := len(word)
		matched := false
		for end > start {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				pieces = append(pieces, piece)
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			pieces = append(pieces, "[UNK]")
			start++
		}
	}
	return pieces
}
