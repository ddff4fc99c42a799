//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// GlobalRandom flags the package-level math/rand/v2 functions. Sampling,
// shuffling and weight initialization draw from an injected *rand.Rand so a
// seed reproduces a whole session.
//
//	i := rand.IntN(n)     // flagged
//	i := rng.IntN(n)      // rng *rand.Rand passed in by the caller
func GlobalRandom(m dsl.Matcher) {
	m.Import("math/rand/v2")

	m.Match(
		`rand.IntN($*_)`,
		`rand.Int64N($*_)`,
		`rand.Uint64N($*_)`,
		`rand.N($*_)`,
		`rand.Float64()`,
		`rand.Float32()`,
		`rand.NormFloat64()`,
		`rand.Perm($*_)`,
		`rand.Shuffle($*_)`,
	).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("draw from an injected *rand.Rand instead of the global source")
}

// LegacyRandom flags the v1 math/rand package.
func LegacyRandom(m dsl.Matcher) {
	m.Import("math/rand")

	m.Match(`rand.New($*_)`, `rand.NewSource($*_)`, `rand.Seed($*_)`).
		Report("use math/rand/v2 with a PCG source")
}

// ClockSeed flags random sources seeded from the wall clock. Seeds come from
// settings so runs can be repeated.
func ClockSeed(m dsl.Matcher) {
	m.Import("math/rand/v2")

	m.Match(
		`rand.NewPCG(uint64(time.Now().UnixNano()), $_)`,
		`rand.NewPCG($_, uint64(time.Now().UnixNano()))`,
	).
		Report("seed from configuration, not from time.Now()")
}
