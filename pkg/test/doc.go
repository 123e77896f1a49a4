/*
Package test provides testing utilities shared across the pybrook packages.

This package includes:
  - Suite: Base test suite with context and testify integration

Usage:

	import "github.com/pybrook/pybrook/pkg/test"

	type MyTestSuite struct {
		test.Suite
	}

	func (s *MyTestSuite) TestSomething() {
		s.NoError(doSomething(s.Ctx))
	}

	func TestMySuite(t *testing.T) {
		test.Run(t, new(MyTestSuite))
	}
*/
package test
