package embed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

// maxSeqLen caps token length per input. BGE-small supports 512, but 256
// halves the attention matrix and comfortably covers 350/800-char chunks.
const maxSeqLen = 256

// ONNXEmbedder runs a bundled sentence-encoder (BGE-small class) through
// ONNX Runtime. Inference is serialized at batch granularity: callers may
// invoke it from many workers, the session runs one batch at a time.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tokenizer  *tokenizers.Tokenizer
	model      string
	dimensions int
	batchSize  int
	closed     bool
}

// NewONNXEmbedder loads model.onnx and tokenizer.json from modelDir.
// ortLibPath points at onnxruntime.so; "" uses the system default.
// Load failure here is fatal to startup by contract.
func NewONNXEmbedder(modelDir, ortLibPath, modelName string, dimensions, batchSize int) (*ONNXEmbedder, error) {
	modelPath := filepath.Join(modelDir, "model.onnx")
	tokenPath := filepath.Join(modelDir, "tokenizer.json")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", modelPath, err)
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return nil, fmt.Errorf("tokenizer not found at %s: %w", tokenPath, err)
	}

	if ortLibPath != "" {
		ort.SetSharedLibraryPath(ortLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}

	// CPU-only, conservatively threaded. More threads rarely help on small
	// machines and contend when intra- and inter-op pools both spawn.
	numThreads := runtime.NumCPU()
	if numThreads > 4 {
		numThreads = 4
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	tk, err := tokenizers.FromFile(tokenPath)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	if batchSize < MinBatchSize || batchSize > MaxBatchSize {
		batchSize = DefaultBatchSize
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &ONNXEmbedder{
		session:    session,
		tokenizer:  tk,
		model:      modelName,
		dimensions: dimensions,
		batchSize:  batchSize,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
// Inputs beyond the batch ceiling are processed in successive batches.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.runBatch(texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch [%d:%d]: %w", i, end, err)
		}
		results = append(results, batch...)
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the model identifier.
func (e *ONNXEmbedder) ModelName() string { return e.model }

// Close releases the ONNX session and tokenizer.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.session != nil {
		e.session.Destroy()
	}
	if e.tokenizer != nil {
		e.tokenizer.Close()
	}
	return nil
}

type encodedText struct {
	ids  []int64
	mask []int64
}

// runBatch performs one ONNX inference call for up to batchSize texts.
func (e *ONNXEmbedder) runBatch(texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	batchSize := len(texts)
	all := make([]encodedText, batchSize)
	maxLen := 0
	for i, text := range texts {
		enc := e.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
		ids := enc.IDs
		if len(ids) > maxSeqLen {
			ids = ids[:maxSeqLen]
		}
		ids64 := make([]int64, len(ids))
		mask64 := make([]int64, len(ids))
		for j, v := range ids {
			ids64[j] = int64(v)
			mask64[j] = 1
		}
		if len(enc.AttentionMask) >= len(ids) {
			for j := range ids64 {
				mask64[j] = int64(enc.AttentionMask[j])
			}
		}
		all[i] = encodedText{ids: ids64, mask: mask64}
		if len(ids64) > maxLen {
			maxLen = len(ids64)
		}
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("all texts tokenized to zero length")
	}

	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	flatType := make([]int64, batchSize*maxLen)
	for i, enc := range all {
		copy(flatIDs[i*maxLen:], enc.ids)
		copy(flatMask[i*maxLen:], enc.mask)
	}
	shape := ort.NewShape(int64(batchSize), int64(maxLen))

	inputIDs, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()
	attnMask, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer attnMask.Destroy()
	typeIDs, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeIDs.Destroy()

	inputs := []ort.Value{inputIDs, attnMask, typeIDs}
	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	data := hidden.GetData()

	// CLS pooling: the first token's hidden state represents the sequence.
	hiddenDim := len(data) / (batchSize * maxLen)
	if hiddenDim != e.dimensions {
		return nil, fmt.Errorf("model emits %d dims, configured %d", hiddenDim, e.dimensions)
	}
	vectors := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		start := i * maxLen * hiddenDim
		vec := make([]float32, hiddenDim)
		copy(vec, data[start:start+hiddenDim])
		vectors[i] = NormalizeVector(vec)
	}
	return vectors, nil
}
