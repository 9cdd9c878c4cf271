package embed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/corpusmcp/internal/config"
)

// ForConfig builds the configured embedder, wrapped in the LRU cache.
//
// Backend "onnx" with missing model files degrades to the static embedder
// with a warning so the engine stays usable offline; a present-but-broken
// model is a fatal load failure by contract.
func ForConfig(cfg config.EmbedConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Backend {
	case "onnx":
		modelPath := filepath.Join(cfg.ModelDir, "model.onnx")
		if _, err := os.Stat(modelPath); err != nil {
			slog.Warn("onnx_model_missing_using_static",
				slog.String("model_dir", cfg.ModelDir))
			inner = NewStaticEmbedder(cfg.Dimensions)
			break
		}
		onnx, err := NewONNXEmbedder(cfg.ModelDir, cfg.ORTLibPath, cfg.Model, cfg.Dimensions, cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("load onnx embedder: %w", err)
		}
		inner = onnx
	case "static", "":
		inner = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}

	cached, err := NewCachedEmbedder(inner, cfg.CacheSize)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return cached, nil
}
