// Package test is the testify-suite base services/gateway's tests build on:
// every role (splitter, generator, resolver) and the gateway itself is
// driven by context-bound broker/cache calls, so each test gets a fresh
// Ctx per test method rather than reusing one across a whole suite.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// Suite wraps testify's suite with a per-test context.
type Suite struct {
	suite.Suite
	Ctx context.Context
}

// SetupTest is called before each test in the suite.
func (s *Suite) SetupTest() {
	s.Ctx = context.Background()
}

// NewSuite creates a new test suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Assert is a helper to access assertions directly if needed (though s.Equal(...) works too).
func (s *Suite) Assert() *assert.Assertions {
	return s.Assertions
}

// WithTimeout returns a context derived from s.Ctx bounded by d, plus its
// cancel func, for a test exercising a blocking broker call (e.g.
// ReadGroup) that should fail fast instead of hanging the suite.
func (s *Suite) WithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.Ctx, d)
}

// Run is a helper function to run a suite from a standard Test* function.
func Run(t *testing.T, s suite.TestingSuite) {
	suite.Run(t, s)
}
