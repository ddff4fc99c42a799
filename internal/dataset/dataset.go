// Package dataset reads the tabular label dataset: one row per image, one
// column per class, plus the reserved bookkeeping columns.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/labelstate"
)

// Reserved column names. Every other column is a class column.
const (
	ColumnFilepath   = "filepath"
	ColumnExclude    = "exclude"
	ColumnViewpath   = "viewpath"
	ColumnValidation = "validation"
)

// ReservedColumns lists the non-class columns in canonical order.
var ReservedColumns = []string{ColumnFilepath, ColumnExclude, ColumnViewpath, ColumnValidation}

// IsReserved reports whether name is a reserved column.
func IsReserved(name string) bool {
	return slices.Contains(ReservedColumns, name)
}

// Table is an in-memory label dataset. Class cells are Negative, Positive or
// Unlabeled (missing).
type Table struct {
	classNames []string
	classes    map[string][]labelstate.Label
	filepaths  []string
	viewpaths  []string
	exclude    []bool
	validation []bool
	present    map[string]bool
	rows       int
}

// Row is the builder input for NewTable.
type Row struct {
	Filepath   string
	Viewpath   string
	Exclude    bool
	Validation bool
	Labels     map[string]labelstate.Label
}

// NewTable builds a table from rows. Classes absent from a row's Labels map
// are missing for that row. The exclude and validation columns are present.
func NewTable(classNames []string, rows []Row) *Table {
	t := &Table{
		classNames: slices.Clone(classNames),
		classes:    make(map[string][]labelstate.Label, len(classNames)),
		filepaths:  make([]string, len(rows)),
		viewpaths:  make([]string, len(rows)),
		exclude:    make([]bool, len(rows)),
		validation: make([]bool, len(rows)),
		present: map[string]bool{
			ColumnFilepath: true, ColumnViewpath: true,
			ColumnExclude: true, ColumnValidation: true,
		},
		rows: len(rows),
	}
	for _, c := range classNames {
		col := make([]labelstate.Label, len(rows))
		for i, r := range rows {
			v, ok := r.Labels[c]
			if !ok {
				v = labelstate.Unlabeled
			}
			col[i] = v
		}
		t.classes[c] = col
	}
	for i, r := range rows {
		t.filepaths[i] = r.Filepath
		t.viewpaths[i] = r.Viewpath
		t.exclude[i] = r.Exclude
		t.validation[i] = r.Validation
	}
	return t
}

// Load reads a CSV label file from disk.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("dataset: open %s: %w", path, err)).
			Component("dataset").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	defer func() { _ = f.Close() }()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return t, nil
}

// Read parses CSV from r. The header row names the columns.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, parseError(fmt.Errorf("read header: %w", err), 1)
	}
	header = slices.Clone(header)
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if dup := firstDuplicate(header); dup != "" {
		return nil, parseError(fmt.Errorf("duplicate column %q", dup), 1)
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, parseError(err, 0)
	}

	t := &Table{
		classes:    make(map[string][]labelstate.Label),
		filepaths:  make([]string, len(records)),
		viewpaths:  make([]string, len(records)),
		exclude:    make([]bool, len(records)),
		validation: make([]bool, len(records)),
		present:    make(map[string]bool),
		rows:       len(records),
	}

	for col, name := range header {
		if IsReserved(name) {
			t.present[name] = true
		} else {
			t.classNames = append(t.classNames, name)
			t.classes[name] = make([]labelstate.Label, len(records))
		}

		for row, rec := range records {
			cell := rec[col]
			line := row + 2
			switch name {
			case ColumnFilepath:
				t.filepaths[row] = cell
			case ColumnViewpath:
				t.viewpaths[row] = cell
			case ColumnExclude, ColumnValidation:
				v, err := ParseFlag(cell)
				if err != nil {
					return nil, parseError(fmt.Errorf("column %q: %w", name, err), line)
				}
				if name == ColumnExclude {
					t.exclude[row] = v
				} else {
					t.validation[row] = v
				}
			default:
				v, err := ParseLabel(cell)
				if err != nil {
					return nil, parseError(fmt.Errorf("column %q: %w", name, err), line)
				}
				t.classes[name][row] = v
			}
		}
	}

	return t, nil
}

func parseError(err error, line int) error {
	b := errors.New(err).Component("dataset").Category(errors.CategoryFileParsing)
	if line > 0 {
		b = b.Context("line", line)
	}
	return b.Build()
}

func firstDuplicate(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n
		}
		seen[n] = true
	}
	return ""
}

// IsMissing reports whether a raw cell denotes a missing value.
func IsMissing(cell string) bool {
	switch strings.TrimSpace(cell) {
	case "", "nan", "NaN", "NAN", "NA", "null", "None":
		return true
	}
	return false
}

// ParseLabel parses a class cell.
func ParseLabel(cell string) (labelstate.Label, error) {
	if IsMissing(cell) {
		return labelstate.Unlabeled, nil
	}
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "1", "1.0", "true", "yes":
		return labelstate.Positive, nil
	case "0", "0.0", "false", "no":
		return labelstate.Negative, nil
	}
	return labelstate.Unlabeled, fmt.Errorf("invalid label %q", cell)
}

// ParseFlag parses a reserved boolean cell; missing reads as false.
func ParseFlag(cell string) (bool, error) {
	if IsMissing(cell) {
		return false, nil
	}
	if l, err := ParseLabel(cell); err == nil {
		return l == labelstate.Positive, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(cell))
	if err != nil {
		return false, fmt.Errorf("invalid flag %q", cell)
	}
	return v, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// ClassNames returns the class columns in file order.
func (t *Table) ClassNames() []string { return slices.Clone(t.classNames) }

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	if IsReserved(name) {
		return t.present[name]
	}
	_, ok := t.classes[name]
	return ok
}

// Class returns the labels of one class column.
func (t *Table) Class(name string) ([]labelstate.Label, error) {
	col, ok := t.classes[name]
	if !ok {
		return nil, MissingColumnError(name)
	}
	return col, nil
}

// Flag returns the exclude or validation column. It fails when the column is
// absent from the file, unlike Excluded and IsValidation which read false.
func (t *Table) Flag(name string) ([]bool, error) {
	if !t.present[name] {
		return nil, MissingColumnError(name)
	}
	switch name {
	case ColumnExclude:
		return t.exclude, nil
	case ColumnValidation:
		return t.validation, nil
	}
	return nil, errors.Newf("dataset: %q is not a flag column", name).
		Component("dataset").
		Category(errors.CategoryConfiguration).
		Build()
}

// Filepath returns the image path of row i.
func (t *Table) Filepath(i int) string { return t.filepaths[i] }

// Filepaths returns all image paths.
func (t *Table) Filepaths() []string { return slices.Clone(t.filepaths) }

// Viewpath returns the display path of row i, falling back to the filepath.
func (t *Table) Viewpath(i int) string {
	if t.viewpaths[i] != "" {
		return t.viewpaths[i]
	}
	return t.filepaths[i]
}

// Excluded reports whether row i is flagged excluded.
func (t *Table) Excluded(i int) bool { return t.exclude[i] }

// IsValidation reports whether row i is held out for validation.
func (t *Table) IsValidation(i int) bool { return t.validation[i] }

// RowLabels returns the label of every class for row i, in ClassNames order.
func (t *Table) RowLabels(i int) []labelstate.Label {
	out := make([]labelstate.Label, len(t.classNames))
	for k, c := range t.classNames {
		out[k] = t.classes[c][i]
	}
	return out
}

// MissingColumnError is returned when an expression or sampler names a column
// the table does not have.
func MissingColumnError(name string) error {
	return errors.Newf("dataset: column %q not found", name).
		Component("dataset").
		Category(errors.CategoryConfiguration).
		Context("column", name).
		Build()
}
