package session

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/patchwork-go/internal/activelearning"
	"github.com/tphakala/patchwork-go/internal/dataset"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/logger"
)

// DefaultLabelColumn names the class column of the labels file when no class is configured.
const DefaultLabelColumn = "label"

// Report summarizes one run.
type Report struct {
	SessionID      string             `yaml:"session_id,omitempty"`
	Features       string             `yaml:"features"`
	Table          string             `yaml:"table"`
	Class          string             `yaml:"class,omitempty"`
	Seed           uint64             `yaml:"seed"`
	BatchSize      int                `yaml:"batch_size"`
	StartIteration int                `yaml:"start_iteration"`
	Planned        int                `yaml:"planned_iterations"`
	Started        time.Time          `yaml:"started"`
	Finished       time.Time          `yaml:"finished"`
	Iterations     []IterationSummary `yaml:"iterations"`
	Counts         LabelCounts        `yaml:"counts"`
	TestAccuracy   []float64          `yaml:"test_accuracy,omitempty"`
	Error          string             `yaml:"error,omitempty"`
}

// IterationSummary is the report entry of one iteration.
type IterationSummary struct {
	Iteration    int           `yaml:"iteration"`
	Mode         string        `yaml:"mode"`
	Positives    int           `yaml:"positives"`
	Explored     int           `yaml:"explored"`
	FitLoss      float64       `yaml:"fit_loss,omitempty"`
	FitDuration  time.Duration `yaml:"fit_duration,omitempty"`
	TestAccuracy *float64      `yaml:"test_accuracy,omitempty"`
}

// LabelCounts mirrors labelstate.Counts with report field names.
type LabelCounts struct {
	Positive  int `yaml:"positive"`
	Negative  int `yaml:"negative"`
	Unlabeled int `yaml:"unlabeled"`
}

func (r *Report) complete(results []activelearning.IterationResult, counts labelstate.Counts, err error) {
	r.Finished = time.Now()
	r.Counts = LabelCounts(counts)
	for _, res := range results {
		r.Iterations = append(r.Iterations, IterationSummary{
			Iteration:    res.Iteration,
			Mode:         string(res.Mode),
			Positives:    len(res.Positives),
			Explored:     res.Explored,
			FitLoss:      res.FitLoss,
			FitDuration:  res.FitDuration,
			TestAccuracy: res.TestAccuracy,
		})
		if res.TestAccuracy != nil {
			r.TestAccuracy = append(r.TestAccuracy, *res.TestAccuracy)
		}
	}
	if err != nil {
		r.Error = err.Error()
	}
}

// WriteReport stores r as YAML at path.
func WriteReport(path string, r *Report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryGeneric).
			Context("operation", "marshal_report").
			Build()
	}
	if err := writeFile(path, data); err != nil {
		return err
	}
	GetLogger().Info("run report written", logger.String("path", path))
	return nil
}

// EncodeReport writes r as YAML to w.
func EncodeReport(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryGeneric).
			Context("operation", "encode_report").
			Build()
	}
	return enc.Close()
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FileError(fmt.Errorf("session: read report: %w", err), path)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.New(err).
			Component("session").
			Category(errors.CategoryFileParsing).
			FileContext(path).
			Build()
	}
	return &r, nil
}

// WriteLabels writes the final labels as a table with a filepath and a class
// column, readable by dataset.Load. Unlabeled items get an empty cell.
func WriteLabels(path string, t *dataset.Table, class string, labels []labelstate.Label) error {
	if t.Len() != len(labels) {
		return errors.Newf("session: %d labels for %d table rows", len(labels), t.Len()).
			Component("session").
			Category(errors.CategoryValidation).
			Build()
	}
	if class == "" {
		class = DefaultLabelColumn
	}

	rows := make([][]string, 0, len(labels)+1)
	rows = append(rows, []string{dataset.ColumnFilepath, class})
	for i, l := range labels {
		cell := ""
		if l != labelstate.Unlabeled {
			cell = strconv.Itoa(int(l))
		}
		rows = append(rows, []string{t.Filepath(i), cell})
	}

	var buf bytes.Buffer
	if err := csv.NewWriter(&buf).WriteAll(rows); err != nil {
		return errors.FileError(fmt.Errorf("session: encode labels: %w", err), path)
	}
	if err := writeFile(path, buf.Bytes()); err != nil {
		return err
	}
	GetLogger().Info("labels written", logger.String("path", path), logger.Int("rows", len(labels)))
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.FileError(fmt.Errorf("session: create %s: %w", dir, err), path)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.FileError(fmt.Errorf("session: write %s: %w", path, err), path)
	}
	return nil
}
