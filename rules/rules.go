//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
// They keep the codebase on its own logging, error and test helpers and on
// current Go idioms.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo detects the manual Add/Done pattern that wg.Go replaces.
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    doSomething()
//	}()
//
// becomes
//
//	wg.Go(func() {
//	    doSomething()
//	})
func WaitGroupGo(m dsl.Matcher) {
	m.Match(
		`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done pattern").
		Suggest("$wg.Go(func() { $body })")
}

// TestingContext detects context.Background() and context.TODO() in tests.
// t.Context() is cancelled when the test ends.
func TestingContext(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("use t.Context() instead of $$ in tests")
}

// TestingSleep detects fixed sleeps in tests. Waiting on a condition with
// testutil.Eventually or a channel with testutil.Receive does not flake on
// slow machines.
func TestingSleep(m dsl.Matcher) {
	m.Match(`time.Sleep($d)`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("avoid time.Sleep($d) in tests; use testutil.Eventually or testutil.Receive")
}

// StdLog detects the standard log package outside main. Components log
// through internal/logger so output carries module and structured fields.
func StdLog(m dsl.Matcher) {
	m.Match(
		`log.Printf($*_)`,
		`log.Println($*_)`,
		`log.Print($*_)`,
		`log.Fatalf($*_)`,
		`log.Fatal($*_)`,
	).
		Where(m.File().Imports("log") && m.File().PkgPath.Matches(`/internal/`)).
		Report("use internal/logger instead of the standard log package")
}

// BareErrors detects errors created with the standard library inside
// internal packages, where errors carry a component and category.
func BareErrors(m dsl.Matcher) {
	m.Match(`errors.New($msg)`).
		Where(m.File().Imports("errors") && m.File().PkgPath.Matches(`/internal/`) &&
			!m.File().PkgPath.Matches(`/internal/errors$`)).
		Report("use internal/errors Newf($msg).Component(...).Category(...).Build()")
}

// TimeSince detects time.Now().Sub(t).
func TimeSince(m dsl.Matcher) {
	m.Match(`time.Now().Sub($t)`).
		Report("use time.Since($t)").
		Suggest("time.Since($t)")
}

// TimeDateTimeConstants detects magic layouts with named constants.
func TimeDateTimeConstants(m dsl.Matcher) {
	m.Match(`$t.Format("2006-01-02 15:04:05")`).
		Report(`use $t.Format(time.DateTime)`).
		Suggest(`$t.Format(time.DateTime)`)

	m.Match(`$t.Format("2006-01-02")`).
		Report(`use $t.Format(time.DateOnly)`).
		Suggest(`$t.Format(time.DateOnly)`)

	m.Match(`time.Parse("2006-01-02", $s)`).
		Report(`use time.Parse(time.DateOnly, $s)`).
		Suggest(`time.Parse(time.DateOnly, $s)`)
}
