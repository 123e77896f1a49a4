// Package gateway is the reference HTTP/WebSocket front door for a compiled
// PyBrook model.Plan: one POST endpoint per input report, one WebSocket
// endpoint per output report, and a schema-introspection endpoint.
// It is explicitly a thin, optional collaborator — none of pkg/splitter,
// pkg/generator, pkg/resolver or pkg/runtime import it.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pybrook/pybrook/pkg/broker"
	"github.com/pybrook/pybrook/pkg/cache"
	"github.com/pybrook/pybrook/pkg/errors"
	"github.com/pybrook/pybrook/pkg/events"
	"github.com/pybrook/pybrook/pkg/logger"
	"github.com/pybrook/pybrook/pkg/model"
	"github.com/pybrook/pybrook/pkg/runtime"
	"github.com/pybrook/pybrook/pkg/validator"
)

const schemaCacheKey = "gateway:schema"

// Server wires a compiled plan to echo routes, fanning every output
// report's broker channel out to its connected WebSocket clients via an
// in-process events.Bus instead of each client opening its own broker
// subscription.
type Server struct {
	plan   *model.Plan
	client broker.Client
	bus    events.Bus
	cache  cache.Cache
	valid  *validator.Validator

	inputsByName map[string]model.InputReport
	upgrader     websocket.Upgrader
}

// NewServer constructs a Server for plan. Call Start to begin fanning out
// broker channels to bus before serving any WebSocket traffic.
func NewServer(plan *model.Plan, client broker.Client, bus events.Bus, schemaCache cache.Cache) *Server {
	inputs := make(map[string]model.InputReport, len(plan.Splitters))
	for _, sp := range plan.Splitters {
		inputs[sp.Report.Name] = sp.Report
	}

	return &Server{
		plan:         plan,
		client:       client,
		bus:          bus,
		cache:        schemaCache,
		valid:        validator.New(),
		inputsByName: inputs,
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Start subscribes once per output report to the broker channel and fans
// every payload out through the Server's events.Bus. It must be called
// before Register for WebSocket clients to receive anything, and returns
// once every subscription is established or ctx is cancelled first.
func (s *Server) Start(ctx context.Context) error {
	for _, rp := range s.plan.Resolvers {
		topic := rp.Report.Name
		ch, err := s.client.Subscribe(ctx, topic)
		if err != nil {
			return errors.Wrapf(err, "failed to subscribe to output channel %q", topic)
		}
		go s.fanOut(ctx, topic, ch)
	}
	return nil
}

func (s *Server) fanOut(ctx context.Context, topic string, ch <-chan string) {
	for payload := range ch {
		event := events.Event{ID: uuid.NewString(), Type: topic, Source: "gateway", Timestamp: time.Now(), Payload: payload}
		if err := s.bus.Publish(ctx, topic, event); err != nil {
			logger.L().ErrorContext(ctx, "gateway failed to fan out event", "topic", topic, "error", err)
		}
	}
}

// Register mounts every route on e.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/input/:report", s.handleInput)
	e.GET("/stream/:report", s.handleStream)
	e.GET("/dlq/:report", s.handleDLQ)
	e.GET("/pybrook-schema.json", s.handleSchema)
}

// handleInput accepts a JSON record for one input report and appends it to
// that report's stream, where the splitter role picks it up.
func (s *Server) handleInput(c echo.Context) error {
	reportName := c.Param("report")
	if err := s.valid.ValidateVar(reportName, "slug"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "report name must be a slug: "+reportName)
	}
	report, ok := s.inputsByName[reportName]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown input report: "+reportName)
	}

	var record map[string]interface{}
	if err := c.Bind(&record); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed JSON body")
	}
	if _, ok := record[report.IDField]; !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "missing id field: "+report.IDField)
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to re-encode JSON body")
	}

	requestID := uuid.NewString()
	entryID, err := s.client.Append(c.Request().Context(), reportName, map[string]string{"payload": string(encoded)})
	if err != nil {
		logger.L().ErrorContext(c.Request().Context(), "gateway failed to append input record", "report", reportName, "request_id", requestID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to accept record")
	}

	return c.JSON(http.StatusAccepted, map[string]string{"entry_id": entryID, "request_id": requestID})
}

// handleStream upgrades to a WebSocket connection and streams every record
// emitted for one output report until the client disconnects.
func (s *Server) handleStream(c echo.Context) error {
	reportName := c.Param("report")
	if err := s.valid.ValidateVar(reportName, "slug"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "report name must be a slug: "+reportName)
	}
	found := false
	for _, rp := range s.plan.Resolvers {
		if rp.Report.Name == reportName {
			found = true
			break
		}
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "unknown output report: "+reportName)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	records := make(chan string, 64)
	if err := s.bus.Subscribe(ctx, reportName, func(ctx context.Context, e events.Event) error {
		payload, _ := e.Payload.(string)
		select {
		case records <- payload:
		default:
			// Slow client: drop rather than block fan-out to everyone else.
		}
		return nil
	}); err != nil {
		return err
	}

	// Drain client-initiated control frames (including close) in the
	// background so the connection's read deadline keeps advancing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-records:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return nil
			}
		}
	}
}

// handleDLQ reports up to 50 dead-letter records written against report
// that no earlier request has returned, optionally narrowed to a single
// message id via the ?message_id= query param so an operator chasing one
// record's fate doesn't have to page through everyone else's dead letters to
// find it. Records a filtered request reads but does not match are not
// returned by a later request either.
func (s *Server) handleDLQ(c echo.Context) error {
	reportName := c.Param("report")
	if err := s.valid.ValidateVar(reportName, "slug"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "report name must be a slug: "+reportName)
	}

	var want string
	if want = c.QueryParam("message_id"); want != "" {
		if err := s.valid.ValidateVar(want, "message_id"); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "message_id is not a well-formed message id: "+want)
		}
	}

	letters, err := runtime.ReadDeadLetters(c.Request().Context(), s.client, reportName, 50)
	if err != nil {
		logger.L().ErrorContext(c.Request().Context(), "gateway failed to read dead letters", "report", reportName, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to read dead letters")
	}

	if want == "" {
		return c.JSON(http.StatusOK, letters)
	}
	filtered := make([]runtime.DeadLetter, 0, len(letters))
	for _, l := range letters {
		if l.Message == want {
			filtered = append(filtered, l)
		}
	}
	return c.JSON(http.StatusOK, filtered)
}

// handleSchema serves the compiled plan's schema document, caching it since
// it never changes for the lifetime of a running engine.
func (s *Server) handleSchema(c echo.Context) error {
	ctx := c.Request().Context()

	var doc SchemaDocument
	if err := s.cache.Get(ctx, schemaCacheKey, &doc); err == nil {
		return c.JSON(http.StatusOK, doc)
	}

	doc = DeriveSchema(s.plan)
	if err := s.cache.Set(ctx, schemaCacheKey, doc, time.Hour); err != nil {
		logger.L().WarnContext(ctx, "gateway failed to cache schema document", "error", err)
	}
	return c.JSON(http.StatusOK, doc)
}
