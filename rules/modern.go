//go:build ruleguard

// Package gorules holds the ruleguard checks for this module.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// MinMaxBuiltin flags integer min/max computed through float64.
func MinMaxBuiltin(m dsl.Matcher) {
	m.Match(`int(math.Min(float64($a), float64($b)))`).
		Report("use min($a, $b)").
		Suggest("min($a, $b)")

	m.Match(`int(math.Max(float64($a), float64($b)))`).
		Report("use max($a, $b)").
		Suggest("max($a, $b)")
}

// ClearBuiltin flags maps emptied with a delete loop.
func ClearBuiltin(m dsl.Matcher) {
	m.Match(`for $k := range $m { delete($m, $k) }`).
		Report("use clear($m)").
		Suggest("clear($m)")
}

// RangeOverInteger flags counting loops from zero. b.N loops are left to
// BenchmarkLoop.
func RangeOverInteger(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $n; $i++ { $*body }`).
		Where(!m["n"].Text.Matches(`.*\.N$`)).
		Report("use for $i := range $n").
		Suggest("for $i := range $n { $body }")
}

// BenchmarkLoop flags b.N loops.
func BenchmarkLoop(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $b.N; $i++ { $*body }`, `for range $b.N { $*body }`).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop()")
}

// BackwardIteration flags index loops that walk a slice from the end.
func BackwardIteration(m dsl.Matcher) {
	m.Match(`for $i := len($s) - 1; $i >= 0; $i-- { $*body }`).
		Report("use slices.Backward($s)")
}

// SlicesClone flags copies made with append onto an empty slice.
func SlicesClone(m dsl.Matcher) {
	m.Match(`append([]$t{}, $s...)`, `append([]$t(nil), $s...)`).
		Report("use slices.Clone($s)").
		Suggest("slices.Clone($s)")
}

// WaitGroupGo flags the Add/Done goroutine pattern.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body })").
		Suggest("$wg.Go(func() { $body })")
}

// TestingContext flags background contexts in tests; t.Context is cancelled
// when the test ends.
func TestingContext(m dsl.Matcher) {
	m.Match(`$ctx := context.Background()`, `$fn(context.Background(), $*_)`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("use t.Context() in tests")
}
