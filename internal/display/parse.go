package display

import (
	"slices"
	"strconv"
	"strings"

	"github.com/tphakala/patchwork-go/internal/errors"
)

// ParsePositives reads a comma-delimited list of 1-based patch numbers and
// returns the zero-based positions, deduplicated in input order. Blank input
// means no positives.
func ParsePositives(input string, m int) ([]int, error) {
	out := []int{}
	for tok := range strings.SplitSeq(input, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, errors.Newf("display: %q is not a patch number", tok).
				Component("display").
				Category(errors.CategoryValidation).
				Build()
		}
		if n < 1 || n > m {
			return nil, errors.Newf("display: patch %d outside 1..%d", n, m).
				Component("display").
				Category(errors.CategoryConfiguration).
				Context("patch", n).
				Build()
		}
		if !slices.Contains(out, n-1) {
			out = append(out, n-1)
		}
	}
	return out, nil
}
