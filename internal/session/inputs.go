package session

import (
	"slices"

	"github.com/tphakala/patchwork-go/internal/activelearning"
	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/dataset"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/features"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/logger"
)

// Inputs is the data a session runs over.
type Inputs struct {
	X      features.Tensor
	Table  *dataset.Table
	Images []string           // display reference per row
	Truth  []labelstate.Label // class column of the table, nil when absent
	Eval   *activelearning.EvalSet
}

// LoadInputs reads the feature file, the label table and the optional
// held-out set named in settings.
func LoadInputs(settings *conf.Settings) (*Inputs, error) {
	d := settings.Data
	x, t, err := loadPair(d.Features, d.Table)
	if err != nil {
		return nil, err
	}

	in := &Inputs{X: x, Table: t, Images: make([]string, t.Len())}
	for i := range t.Len() {
		in.Images[i] = t.Viewpath(i)
	}
	if d.Class != "" && t.HasColumn(d.Class) {
		if in.Truth, err = t.Class(d.Class); err != nil {
			return nil, err
		}
	}

	if d.TestFeatures != "" || d.TestTable != "" {
		if d.TestFeatures == "" || d.TestTable == "" {
			return nil, configError("test features and test table must be given together")
		}
		if in.Eval, err = loadEval(d.TestFeatures, d.TestTable, d.Class); err != nil {
			return nil, err
		}
		if !slices.Equal(in.Eval.X.ItemShape(), x.ItemShape()) {
			return nil, errors.Newf("session: test item shape %v does not match training item shape %v",
				in.Eval.X.ItemShape(), x.ItemShape()).
				Component("session").
				Category(errors.CategoryValidation).
				FileContext(d.TestFeatures).
				Build()
		}
	}

	GetLogger().Info("session inputs loaded",
		logger.String("features", d.Features),
		logger.Int("items", x.Len()),
		logger.Bool("ground_truth", in.Truth != nil),
		logger.Bool("test_set", in.Eval != nil))
	return in, nil
}

func loadPair(featuresPath, tablePath string) (features.Tensor, *dataset.Table, error) {
	x, err := features.ReadFile(featuresPath)
	if err != nil {
		return features.Tensor{}, nil, err
	}
	t, err := dataset.Load(tablePath)
	if err != nil {
		return features.Tensor{}, nil, err
	}
	if x.Len() != t.Len() {
		return features.Tensor{}, nil, errors.Newf("session: %s has %d rows, %s has %d", featuresPath, x.Len(), tablePath, t.Len()).
			Component("session").
			Category(errors.CategoryValidation).
			FileContext(featuresPath).
			Build()
	}
	return x, t, nil
}

// loadEval builds the held-out set. Every row must carry a 0 or 1 label.
func loadEval(featuresPath, tablePath, class string) (*activelearning.EvalSet, error) {
	if class == "" {
		return nil, configError("a test set needs data.class")
	}
	x, t, err := loadPair(featuresPath, tablePath)
	if err != nil {
		return nil, err
	}
	labels, err := t.Class(class)
	if err != nil {
		return nil, err
	}
	y := make([]float64, len(labels))
	for i, l := range labels {
		if l == labelstate.Unlabeled {
			return nil, errors.Newf("session: test row %d has no %q label", i, class).
				Component("session").
				Category(errors.CategoryValidation).
				FileContext(tablePath).
				Build()
		}
		y[i] = float64(l)
	}
	return &activelearning.EvalSet{X: x, Y: y}, nil
}

func configError(format string, args ...any) error {
	return errors.Newf("session: "+format, args...).
		Component("session").
		Category(errors.CategoryConfiguration).
		Build()
}
