//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// StdErrorsNew flags the standard library constructor outside the errors
// package. Errors carry a component and category through the builder.
//
//	errors.New("bad shape")                                    // flagged
//	errors.Newf("bad shape").Component("x").Category(...).Build()
func StdErrorsNew(m dsl.Matcher) {
	m.Import("errors")

	m.Match(`errors.New($s)`).
		Where(m["s"].Type.Is("string") && !m.File().PkgPath.Matches(`internal/errors$`)).
		Report("use errors.Newf(...).Component(...).Category(...).Build() or errors.NewStd")
}

// WrapWithoutW flags fmt.Errorf calls that format an error without %w, which
// hides it from errors.Is and errors.As.
func WrapWithoutW(m dsl.Matcher) {
	m.Match(`fmt.Errorf($f, $*_, $err, $*_)`).
		Where(m["err"].Type.Implements("error") && m["f"].Text.Matches(`^".*"$`) && !m["f"].Text.Matches(`%w`)).
		Report("wrap $err with %w")
}

// UncategorizedBuild flags builder chains that never set a category, which
// leaves the error out of category metrics and IsCategory checks.
func UncategorizedBuild(m dsl.Matcher) {
	m.Match(
		`errors.New($err).Component($c).Build()`,
		`errors.Newf($*_).Component($c).Build()`,
	).
		Report("set a Category before Build")
}
