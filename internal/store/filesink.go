package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/querycraft/querycraft/internal/agent/core"
)

// FileResultSink persists analysis results as one JSON file per query.
type FileResultSink struct{ dir string }

// NewFileResultSink creates the results directory if needed.
func NewFileResultSink(dir string) (*FileResultSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileResultSink{dir: dir}, nil
}

// Save writes the result to <dir>/<id>.json.
func (s *FileResultSink) Save(ctx context.Context, result core.AnalysisResult) error {
	if result.ID == "" {
		return fmt.Errorf("result has no id")
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, result.ID+".json"), data, 0o644)
}

// Load reads a previously saved result back.
func (s *FileResultSink) Load(id string) (core.AnalysisResult, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return core.AnalysisResult{}, err
	}
	var result core.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return core.AnalysisResult{}, err
	}
	return result, nil
}
