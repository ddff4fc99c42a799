// Package subset evaluates row predicates over a label dataset.
//
// Accepted expressions:
//
//	unlabeled             all class cells missing
//	fully labeled         no class cell missing
//	partially labeled     some but not all class cells missing
//	excluded / not excluded
//	validation
//	unlabeled:<class>     the class cell is missing
//	contains:<class>      the class cell is 1
//	doesn't contain:<class>  the class cell is 0
package subset

import (
	"strings"

	"github.com/tphakala/patchwork-go/internal/dataset"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/labelstate"
)

// Kind tags the variant of an Expr.
type Kind int

const (
	Unlabeled Kind = iota
	FullyLabeled
	PartiallyLabeled
	Excluded
	NotExcluded
	Validation
	UnlabeledClass
	ContainsClass
	NotContainsClass
)

var kindNames = map[Kind]string{
	Unlabeled:        "unlabeled",
	FullyLabeled:     "fully labeled",
	PartiallyLabeled: "partially labeled",
	Excluded:         "excluded",
	NotExcluded:      "not excluded",
	Validation:       "validation",
	UnlabeledClass:   "unlabeled",
	ContainsClass:    "contains",
	NotContainsClass: "doesn't contain",
}

// Expr is a parsed subset expression. Class is set only for the per-class kinds.
type Expr struct {
	Kind  Kind
	Class string
}

// HasClass reports whether the kind takes a class argument.
func (k Kind) HasClass() bool {
	return k == UnlabeledClass || k == ContainsClass || k == NotContainsClass
}

// String renders the expression back to its textual form.
func (e Expr) String() string {
	if e.Kind.HasClass() {
		return kindNames[e.Kind] + ":" + e.Class
	}
	return kindNames[e.Kind]
}

// Parse converts a textual expression to an Expr.
func Parse(spec string) (Expr, error) {
	s := strings.TrimSpace(spec)

	if head, class, ok := strings.Cut(s, ":"); ok {
		class = strings.TrimSpace(class)
		if class == "" {
			return Expr{}, unsupported(spec)
		}
		switch strings.TrimSpace(head) {
		case "unlabeled":
			return Expr{Kind: UnlabeledClass, Class: class}, nil
		case "contains":
			return Expr{Kind: ContainsClass, Class: class}, nil
		case "doesn't contain":
			return Expr{Kind: NotContainsClass, Class: class}, nil
		}
		return Expr{}, unsupported(spec)
	}

	switch s {
	case "unlabeled":
		return Expr{Kind: Unlabeled}, nil
	case "fully labeled":
		return Expr{Kind: FullyLabeled}, nil
	case "partially labeled":
		return Expr{Kind: PartiallyLabeled}, nil
	case "excluded":
		return Expr{Kind: Excluded}, nil
	case "not excluded":
		return Expr{Kind: NotExcluded}, nil
	case "validation":
		return Expr{Kind: Validation}, nil
	}
	return Expr{}, unsupported(spec)
}

// MustParse is Parse for static expressions; it panics on error.
func MustParse(spec string) Expr {
	e, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return e
}

func unsupported(spec string) error {
	return errors.Newf("subset: unsupported subset expression %q", spec).
		Component("subset").
		Category(errors.CategoryConfiguration).
		Context("expression", spec).
		Build()
}

// Mask evaluates the expression over every row of t.
func (e Expr) Mask(t *dataset.Table) ([]bool, error) {
	n := t.Len()
	mask := make([]bool, n)

	switch e.Kind {
	case Unlabeled, FullyLabeled, PartiallyLabeled:
		classes := t.ClassNames()
		cols := make([][]labelstate.Label, len(classes))
		for k, c := range classes {
			col, err := t.Class(c)
			if err != nil {
				return nil, err
			}
			cols[k] = col
		}
		for i := range n {
			missing := 0
			for _, col := range cols {
				if col[i] == labelstate.Unlabeled {
					missing++
				}
			}
			switch e.Kind {
			case Unlabeled:
				mask[i] = missing == len(cols)
			case FullyLabeled:
				mask[i] = missing == 0
			default:
				mask[i] = missing > 0 && missing < len(cols)
			}
		}

	case Excluded, NotExcluded:
		flags, err := t.Flag(dataset.ColumnExclude)
		if err != nil {
			return nil, err
		}
		for i := range n {
			mask[i] = flags[i] == (e.Kind == Excluded)
		}

	case Validation:
		flags, err := t.Flag(dataset.ColumnValidation)
		if err != nil {
			return nil, err
		}
		copy(mask, flags)

	case UnlabeledClass, ContainsClass, NotContainsClass:
		col, err := t.Class(e.Class)
		if err != nil {
			return nil, err
		}
		want := map[Kind]labelstate.Label{
			UnlabeledClass:   labelstate.Unlabeled,
			ContainsClass:    labelstate.Positive,
			NotContainsClass: labelstate.Negative,
		}[e.Kind]
		for i := range n {
			mask[i] = col[i] == want
		}

	default:
		return nil, unsupported(e.String())
	}

	return mask, nil
}

// Select parses spec and evaluates it over t.
func Select(t *dataset.Table, spec string) ([]bool, error) {
	e, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	return e.Mask(t)
}

// Count returns the number of true entries in mask.
func Count(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}

// Rows returns the indices where mask is true.
func Rows(mask []bool) []int {
	var out []int
	for i, m := range mask {
		if m {
			out = append(out, i)
		}
	}
	return out
}
