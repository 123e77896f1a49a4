package gateway_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	brokermem "github.com/pybrook/pybrook/pkg/broker/adapters/memory"
	cachemem "github.com/pybrook/pybrook/pkg/cache/adapters/memory"
	"github.com/pybrook/pybrook/pkg/events/adapters/memory"
	"github.com/pybrook/pybrook/pkg/model"
	"github.com/pybrook/pybrook/pkg/test"
	"github.com/pybrook/pybrook/services/gateway"
)

type ServerSuite struct {
	*test.Suite
	e    *echo.Echo
	srv  *gateway.Server
	plan *model.Plan
}

func TestServerSuite(t *testing.T) {
	test.Run(t, &ServerSuite{Suite: test.NewSuite()})
}

func (s *ServerSuite) SetupTest() {
	s.Suite.SetupTest()

	eng := model.New(":")
	s.Require().NoError(eng.Input("vehicle", "id", "id", "lat", "lon"))
	s.Require().NoError(eng.Output("telemetry", "lat", "lon"))
	plan, err := eng.Compile()
	s.Require().NoError(err)
	s.plan = plan

	client := brokermem.New()
	s.T().Cleanup(func() { client.Close() })
	cache := cachemem.New()
	s.T().Cleanup(func() { cache.Close() })
	bus := memory.New()
	s.T().Cleanup(func() { bus.Close() })

	s.srv = gateway.NewServer(plan, client, bus, cache)
	s.Require().NoError(s.srv.Start(s.Ctx))

	s.e = echo.New()
	s.srv.Register(s.e)
}

func (s *ServerSuite) TestInputAcceptsValidRecord() {
	req := httptest.NewRequest(http.MethodPost, "/input/vehicle", strings.NewReader(`{"id":"v1","lat":1.0,"lon":2.0}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(s.T(), http.StatusAccepted, rec.Code)
}

func (s *ServerSuite) TestInputRejectsUnknownReport() {
	req := httptest.NewRequest(http.MethodPost, "/input/does-not-exist", strings.NewReader(`{"id":"v1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(s.T(), http.StatusNotFound, rec.Code)
}

func (s *ServerSuite) TestInputRejectsNonSlugReportName() {
	req := httptest.NewRequest(http.MethodPost, "/input/Vehicle_1!", strings.NewReader(`{"id":"v1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(s.T(), http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestInputRejectsMissingIDField() {
	req := httptest.NewRequest(http.MethodPost, "/input/vehicle", strings.NewReader(`{"lat":1.0,"lon":2.0}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(s.T(), http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestSchemaEndpointListsCompiledReports() {
	req := httptest.NewRequest(http.MethodGet, "/pybrook-schema.json", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(s.T(), http.StatusOK, rec.Code)
	require.Contains(s.T(), rec.Body.String(), "vehicle")
	require.Contains(s.T(), rec.Body.String(), "telemetry")
}

func (s *ServerSuite) TestSchemaEndpointIsServedFromCacheOnSecondCall() {
	first := httptest.NewRecorder()
	s.e.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/pybrook-schema.json", nil))
	second := httptest.NewRecorder()
	s.e.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/pybrook-schema.json", nil))
	require.Equal(s.T(), first.Body.String(), second.Body.String())
}

func (s *ServerSuite) TestDLQEndpointRejectsNonSlugReportName() {
	req := httptest.NewRequest(http.MethodGet, "/dlq/Vehicle_1!", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(s.T(), http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestDLQEndpointRejectsMalformedMessageIDFilter() {
	req := httptest.NewRequest(http.MethodGet, "/dlq/vehicle?message_id=not-a-message-id", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(s.T(), http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestDLQEndpointReturnsEmptyListWhenNothingDeadLettered() {
	req := httptest.NewRequest(http.MethodGet, "/dlq/vehicle?message_id=v1:1", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(s.T(), http.StatusOK, rec.Code)
	require.JSONEq(s.T(), "[]", rec.Body.String())
}
