package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/patchwork-go/internal/activelearning"
	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/dataset"
	"github.com/tphakala/patchwork-go/internal/datastore"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/features"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/logger"
	"github.com/tphakala/patchwork-go/internal/observability"
)

var quiet = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)

// writeFixture writes n items of two channels with a "cat" class column.
// Even rows are positive and have their signal in channel 0.
func writeFixture(t *testing.T, dir, prefix string, n int) (featuresPath, tablePath string) {
	t.Helper()
	data := make([]float32, 0, 2*n)
	var csv strings.Builder
	csv.WriteString("filepath,cat\n")
	for i := range n {
		if i%2 == 0 {
			data = append(data, 1, 0)
			fmt.Fprintf(&csv, "%s_%03d.png,1\n", prefix, i)
		} else {
			data = append(data, 0, 1)
			fmt.Fprintf(&csv, "%s_%03d.png,0\n", prefix, i)
		}
	}
	x, err := features.FromData(data, n, 2)
	require.NoError(t, err)

	featuresPath = filepath.Join(dir, prefix+".bin")
	tablePath = filepath.Join(dir, prefix+".csv")
	require.NoError(t, features.WriteFile(featuresPath, x))
	require.NoError(t, os.WriteFile(tablePath, []byte(csv.String()), 0o644))
	return featuresPath, tablePath
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	fp, tp := writeFixture(t, dir, "train", 40)
	return &conf.Settings{
		Seed: 7,
		Data: conf.DataSettings{Features: fp, Table: tp, Class: "cat"},
		ActiveLearning: conf.ActiveLearningSettings{
			BatchSize:   4,
			Epochs:      5,
			MinCount:    2,
			Stratify:    true,
			MaxFitBatch: 8,
			Iterations:  3,
		},
		Model: conf.ModelSettings{LearningRate: 0.1, Workers: 1},
	}
}

func openStore(t *testing.T) *datastore.Store {
	t.Helper()
	db, err := datastore.OpenSQLite(filepath.Join(t.TempDir(), "patchwork.db"), 0, datastore.WithLogger(quiet))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func groundTruth(t *testing.T, in *Inputs) activelearning.Annotator {
	t.Helper()
	require.NotNil(t, in.Truth)
	return activelearning.GroundTruth{Labels: in.Truth}
}

func TestLoadInputs(t *testing.T) {
	s := testSettings(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)

	assert.Equal(t, 40, in.X.Len())
	assert.Len(t, in.Images, 40)
	assert.Equal(t, "train_001.png", in.Images[1])
	assert.Equal(t, labelstate.Positive, in.Truth[0])
	assert.Equal(t, labelstate.Negative, in.Truth[1])
	assert.Nil(t, in.Eval)
}

func TestLoadInputsWithoutClassColumn(t *testing.T) {
	s := testSettings(t)
	s.Data.Class = "dog"
	in, err := LoadInputs(s)
	require.NoError(t, err)
	assert.Nil(t, in.Truth)
}

func TestLoadInputsRowMismatch(t *testing.T) {
	s := testSettings(t)
	_, otherTable := writeFixture(t, t.TempDir(), "other", 10)
	s.Data.Table = otherTable

	_, err := LoadInputs(s)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestLoadInputsTestSet(t *testing.T) {
	s := testSettings(t)
	s.Data.TestFeatures, s.Data.TestTable = writeFixture(t, t.TempDir(), "test", 10)

	in, err := LoadInputs(s)
	require.NoError(t, err)
	require.NotNil(t, in.Eval)
	assert.Equal(t, 10, in.Eval.X.Len())
	assert.Equal(t, []float64{1, 0, 1, 0, 1, 0, 1, 0, 1, 0}, in.Eval.Y)

	s.Data.TestTable = ""
	_, err = LoadInputs(s)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestLoadInputsTestSetShapeMismatch(t *testing.T) {
	s := testSettings(t)
	dir := t.TempDir()
	s.Data.TestFeatures, s.Data.TestTable = writeFixture(t, dir, "test", 10)
	wide, err := features.FromData(make([]float32, 30), 10, 3)
	require.NoError(t, err)
	require.NoError(t, features.WriteFile(s.Data.TestFeatures, wide))

	_, err = LoadInputs(s)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Contains(t, err.Error(), "item shape")
}

func TestNewRequiresAnnotator(t *testing.T) {
	s := testSettings(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)

	_, err = New(t.Context(), s, in, WithLogger(quiet))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewRejectsForeignLabelStore(t *testing.T) {
	s := testSettings(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)

	_, err = New(t.Context(), s, in, WithAnnotator(groundTruth(t, in)), WithLabelStore(labelstate.NewStore(3)))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestPlannedIterations(t *testing.T) {
	s := testSettings(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)

	sess, err := New(t.Context(), s, in, WithAnnotator(groundTruth(t, in)), WithLogger(quiet))
	require.NoError(t, err)
	assert.Equal(t, 3, sess.PlannedIterations())

	s.ActiveLearning.Iterations = 0
	assert.Equal(t, 10, sess.PlannedIterations())
}

func TestRunWritesReportAndLabels(t *testing.T) {
	s := testSettings(t)
	out := t.TempDir()
	s.Output.Report = filepath.Join(out, "report.yaml")
	s.Output.Labels = filepath.Join(out, "labels", "labels.csv")
	in, err := LoadInputs(s)
	require.NoError(t, err)

	sess, err := New(t.Context(), s, in, WithAnnotator(groundTruth(t, in)), WithLogger(quiet))
	require.NoError(t, err)
	assert.Empty(t, sess.ID())

	report, err := sess.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, report.Iterations, 3)
	assert.Equal(t, 12, report.Counts.Positive+report.Counts.Negative)
	assert.Equal(t, 28, report.Counts.Unlabeled)
	assert.Empty(t, report.Error)

	got, err := ReadReport(s.Output.Report)
	require.NoError(t, err)
	assert.Equal(t, report.Counts, got.Counts)
	assert.Equal(t, uint64(7), got.Seed)
	for i, it := range got.Iterations {
		assert.Equal(t, i+1, it.Iteration)
	}

	table, err := dataset.Load(s.Output.Labels)
	require.NoError(t, err)
	labels, err := table.Class("cat")
	require.NoError(t, err)
	labeled := 0
	for i, l := range labels {
		if l == labelstate.Unlabeled {
			continue
		}
		labeled++
		assert.Equal(t, in.Truth[i], l, "row %d", i)
	}
	assert.Equal(t, 12, labeled)
}

func TestRunStopsOnAnnotatorError(t *testing.T) {
	s := testSettings(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	truth := groundTruth(t, in)
	calls := 0
	failing := activelearning.AnnotatorFunc(func(ctx context.Context, b activelearning.Batch) ([]int, error) {
		calls++
		if calls == 2 {
			return nil, errors.NewStd("display closed")
		}
		return truth.Annotate(ctx, b)
	})

	sess, err := New(t.Context(), s, in, WithAnnotator(failing), WithMetrics(m), WithLogger(quiet))
	require.NoError(t, err)

	report, err := sess.Run(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAnnotation))
	require.Len(t, report.Iterations, 1)
	assert.NotEmpty(t, report.Error)
	assert.Equal(t, 4, report.Counts.Positive+report.Counts.Negative)

	expected := `
# HELP patchwork_annotation_errors_total Annotation rounds that ended in an error.
# TYPE patchwork_annotation_errors_total counter
patchwork_annotation_errors_total 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "patchwork_annotation_errors_total"))
}

func TestRunRecordsMetrics(t *testing.T) {
	s := testSettings(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	sess, err := New(t.Context(), s, in, WithAnnotator(groundTruth(t, in)), WithMetrics(m), WithLogger(quiet))
	require.NoError(t, err)
	report, err := sess.Run(t.Context())
	require.NoError(t, err)

	expected := fmt.Sprintf(`
# HELP patchwork_labels Current number of items per label value.
# TYPE patchwork_labels gauge
patchwork_labels{label="0"} %d
patchwork_labels{label="1"} %d
patchwork_labels{label="unlabeled"} %d
`, report.Counts.Negative, report.Counts.Positive, report.Counts.Unlabeled)
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "patchwork_labels"))

	series, err := testutil.GatherAndCount(m.Registry(), "patchwork_iterations_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, series, 1)
}

func TestObserverRunsAfterCommit(t *testing.T) {
	s := testSettings(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)

	var seen []int
	sess, err := New(t.Context(), s, in,
		WithAnnotator(groundTruth(t, in)),
		WithLogger(quiet),
		WithObserver(activelearning.ObserverFunc(func(_ context.Context, r activelearning.IterationResult) error {
			seen = append(seen, r.Counts.Unlabeled)
			return nil
		})))
	require.NoError(t, err)

	_, err = sess.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []int{36, 32, 28}, seen)
}

func TestRunPersistsAndResumes(t *testing.T) {
	s := testSettings(t)
	s.ActiveLearning.Iterations = 2
	s.Data.TestFeatures, s.Data.TestTable = writeFixture(t, t.TempDir(), "test", 10)
	db := openStore(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)

	first, err := New(t.Context(), s, in, WithAnnotator(groundTruth(t, in)), WithDatastore(db), WithLogger(quiet))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID())
	assert.Equal(t, 0, first.StartIteration())

	report, err := first.Run(t.Context())
	require.NoError(t, err)
	assert.Len(t, report.TestAccuracy, 2)

	rec, err := db.GetSession(t.Context(), first.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Iterations)

	history, err := db.AccuracyHistory(t.Context(), first.ID())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.InDelta(t, report.TestAccuracy[1], history[1].Accuracy, 1e-12)

	// a second session over the same features file picks up the stored labels
	s.ActiveLearning.Iterations = 1
	second, err := New(t.Context(), s, in, WithAnnotator(groundTruth(t, in)), WithDatastore(db), WithLogger(quiet))
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 2, second.StartIteration())
	assert.Equal(t, first.Store().Labels(), second.Store().Labels())
	assert.Equal(t, 2, second.Controller().Iteration())

	report, err = second.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, report.Iterations, 1)
	assert.Equal(t, 3, report.Iterations[0].Iteration)

	rec, err = db.GetSession(t.Context(), first.ID())
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Iterations)

	labels, _, err := db.LoadLabels(t.Context(), first.ID(), 40)
	require.NoError(t, err)
	assert.Equal(t, second.Store().Labels(), labels)
}

func TestDatastoreSizeChangeStartsNewSession(t *testing.T) {
	s := testSettings(t)
	db := openStore(t)
	require.NoError(t, db.CreateSession(t.Context(), &datastore.Session{FeaturesPath: s.Data.Features, Items: 99}))

	in, err := LoadInputs(s)
	require.NoError(t, err)
	sess, err := New(t.Context(), s, in, WithAnnotator(groundTruth(t, in)), WithDatastore(db), WithLogger(quiet))
	require.NoError(t, err)

	rec, err := db.GetSession(t.Context(), sess.ID())
	require.NoError(t, err)
	assert.Equal(t, 40, rec.Items)
	assert.Equal(t, 0, sess.StartIteration())
}

func TestWriteLabelsLengthMismatch(t *testing.T) {
	s := testSettings(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)

	err = WriteLabels(filepath.Join(t.TempDir(), "labels.csv"), in.Table, "", make([]labelstate.Label, 3))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestRunWithStopsServices(t *testing.T) {
	s := testSettings(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)
	sess, err := New(t.Context(), s, in, WithAnnotator(groundTruth(t, in)), WithLogger(quiet))
	require.NoError(t, err)

	stopped := make(chan struct{})
	svc := func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	}
	report, err := sess.RunWith(t.Context(), svc)
	require.NoError(t, err)
	assert.Len(t, report.Iterations, 3)

	select {
	case <-stopped:
	default:
		t.Fatal("service still running after the session ended")
	}
}

func TestRunWithServiceFailureCancelsSession(t *testing.T) {
	s := testSettings(t)
	in, err := LoadInputs(s)
	require.NoError(t, err)

	block := activelearning.AnnotatorFunc(func(ctx context.Context, _ activelearning.Batch) ([]int, error) {
		<-ctx.Done()
		return nil, errors.New(ctx.Err()).Component("test").Category(errors.CategoryCancellation).Build()
	})
	sess, err := New(t.Context(), s, in, WithAnnotator(block), WithLogger(quiet))
	require.NoError(t, err)

	failing := func(context.Context) error { return errors.NewStd("address in use") }
	report, err := sess.RunWith(t.Context(), failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	require.NotNil(t, report)
	assert.Empty(t, report.Iterations)
}

func TestOpenDatastoreDisabled(t *testing.T) {
	db, err := OpenDatastore(&conf.Settings{}, nil)
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestOpenDatastoreSQLite(t *testing.T) {
	s := &conf.Settings{Datastore: conf.DatastoreSettings{
		Enabled: true,
		Driver:  datastore.DriverSQLite,
		SQLite:  conf.SQLiteSettings{Path: filepath.Join(t.TempDir(), "p.db")},
	}}
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	db, err := OpenDatastore(s, m)
	require.NoError(t, err)
	require.NotNil(t, db)
	require.NoError(t, db.Close())
}

func TestEncodeReport(t *testing.T) {
	acc := 0.5
	var buf strings.Builder
	require.NoError(t, EncodeReport(&buf, &Report{
		Features:   "f.bin",
		Iterations: []IterationSummary{{Iteration: 1, Mode: "random", TestAccuracy: &acc}},
	}))
	out := buf.String()
	assert.Contains(t, out, "features: f.bin")
	assert.Contains(t, out, "test_accuracy: 0.5")
	assert.NotContains(t, out, "session_id")
}
