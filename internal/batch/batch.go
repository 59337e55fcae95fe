package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/querycraft/querycraft/config"
	"github.com/querycraft/querycraft/internal/agent/core"
)

// Row is one labelled evaluation case.
type Row struct {
	Question string
	Expected string // "simple" or "complex"
}

// Prediction is the outcome of running one row.
type Prediction struct {
	Question  string `json:"question"`
	Expected  string `json:"expected"`
	Predicted string `json:"predicted"` // "simple", "complex" or "unknown"
	Match     bool   `json:"match"`
	Error     string `json:"error,omitempty"`
}

// Report aggregates a finished evaluation run.
type Report struct {
	Total      int       `json:"total"`
	Matched    int       `json:"matched"`
	Unknown    int       `json:"unknown"`
	Errored    int       `json:"errored"`
	Accuracy   float64   `json:"accuracy"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Runner evaluates labelled questions against an analyzer, throttled to the
// configured queries-per-minute.
type Runner struct {
	analyzer core.AnalyzerInterface
	limiter  *rate.Limiter
	cfg      config.BatchConfig
	logger   *log.Logger
}

// NewRunner creates an evaluation runner.
func NewRunner(analyzer core.AnalyzerInterface, cfg config.BatchConfig) *Runner {
	cfg = cfg.Normalize()
	return &Runner{
		analyzer: analyzer,
		limiter:  rate.NewLimiter(rate.Limit(cfg.QueriesPerMinute/60.0), 1),
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[BATCH] ", log.LstdFlags),
	}
}

// LoadRows reads labelled cases from a CSV file. The first column is the
// question, the second the expected label. A header row named
// "question" is skipped. Expected labels are lower-cased; anything other
// than "simple" or "complex" is rejected.
func LoadRows(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, fmt.Errorf("row %d: expected question and label, got %d fields", i+1, len(rec))
		}
		question := strings.TrimSpace(rec[0])
		label := strings.ToLower(strings.TrimSpace(rec[1]))
		if i == 0 && strings.EqualFold(question, "question") {
			continue
		}
		if question == "" {
			return nil, fmt.Errorf("row %d: empty question", i+1)
		}
		if label != "simple" && label != "complex" {
			return nil, fmt.Errorf("row %d: unknown label %q", i+1, label)
		}
		rows = append(rows, Row{Question: question, Expected: label})
	}
	return rows, nil
}

// Run evaluates all rows and writes predictions plus an aggregate report
// under the configured report directory. It returns the report.
func (r *Runner) Run(ctx context.Context, rows []Row) (Report, error) {
	report := Report{Total: len(rows), StartedAt: time.Now()}
	predictions := make([]Prediction, 0, len(rows))

	for i, row := range rows {
		if err := r.limiter.Wait(ctx); err != nil {
			return report, err
		}

		result := r.analyzer.Process(ctx, row.Question)
		pred := predictionOf(row, result)
		predictions = append(predictions, pred)

		if pred.Match {
			report.Matched++
		}
		if pred.Predicted == "unknown" {
			report.Unknown++
		}
		if pred.Error != "" {
			report.Errored++
		}
		r.logger.Printf("row %d/%d: expected=%s predicted=%s", i+1, len(rows), pred.Expected, pred.Predicted)
	}

	report.FinishedAt = time.Now()
	if report.Total > 0 {
		report.Accuracy = float64(report.Matched) / float64(report.Total)
	}

	if err := r.writeArtifacts(predictions, report); err != nil {
		return report, err
	}
	return report, nil
}

// predictionOf labels one result. An unknown verdict never matches.
func predictionOf(row Row, result core.AnalysisResult) Prediction {
	pred := Prediction{
		Question:  row.Question,
		Expected:  row.Expected,
		Predicted: "unknown",
		Error:     result.Error,
	}
	if result.IsComplex != nil {
		if *result.IsComplex {
			pred.Predicted = "complex"
		} else {
			pred.Predicted = "simple"
		}
		pred.Match = pred.Predicted == row.Expected
	}
	return pred
}

func (r *Runner) writeArtifacts(predictions []Prediction, report Report) error {
	if err := os.MkdirAll(r.cfg.ReportDir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	stamp := report.StartedAt.Format("20060102_150405")

	predPath := filepath.Join(r.cfg.ReportDir, fmt.Sprintf("predictions_%s.csv", stamp))
	f, err := os.Create(predPath)
	if err != nil {
		return fmt.Errorf("create predictions file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"question", "expected", "predicted", "match", "error"}); err != nil {
		f.Close()
		return err
	}
	for _, p := range predictions {
		if err := w.Write([]string{p.Question, p.Expected, p.Predicted, fmt.Sprintf("%t", p.Match), p.Error}); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	reportPath := filepath.Join(r.cfg.ReportDir, fmt.Sprintf("report_%s.json", stamp))
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(reportPath, payload, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	r.logger.Printf("wrote %s and %s", predPath, reportPath)
	return nil
}
