// Package model is the declarative registry and compiler PyBrook users build
// against: register input reports, artificial fields and output reports,
// then Compile the static dependency graph the runtime executes.
//
// Dependencies are declared up front through Field instead of being
// discovered by inspecting a user function's signature at call time.
package model

import (
	"github.com/pybrook/pybrook/pkg/errors"
	"github.com/pybrook/pybrook/pkg/validator"
)

var nameValidator = validator.New()

// Values is the decoded current-dependency input to a field function, keyed
// by dependency field name.
type Values map[string]interface{}

// History is a left-padded window of prior values for one historical
// dependency, oldest first. A missing slot is nil.
type History []interface{}

// FieldFunc computes a derived field's value from its current dependencies
// and the history windows of its historical dependencies.
type FieldFunc func(current Values, history map[string]History) (interface{}, error)

// Historical declares a historical dependency on field Name, reading the
// most recent Window values strictly preceding the current message.
type Historical struct {
	Name   string
	Window int
}

// Field is a source field (from an input report schema) or a derived field
// (registered via Engine.Field).
type Field struct {
	Name        string
	Derived     bool
	InputReport string // set when Derived is false
	Current     []string
	Historical  []Historical
	Fn          FieldFunc
}

// InputReport is a typed collection of source fields posted to one input
// stream, keyed by IDField.
type InputReport struct {
	Name    string
	IDField string
	Fields  []string
}

// OutputReport references existing fields (source or derived) and is
// emitted as a complete record once every referenced field has arrived for
// a message-id.
type OutputReport struct {
	Name   string
	Fields []string
}

// Engine is an explicit registry: every report and field lives on one
// Engine value instead of in package-level state, so a process can build
// and compile more than one model without them colliding.
type Engine struct {
	separator     string
	inputReports  map[string]*InputReport
	fields        map[string]*Field
	outputReports map[string]*OutputReport
	order         []string // insertion order, for deterministic compiler errors
}

// New creates an empty Engine using sep as the message-id separator.
func New(sep string) *Engine {
	return &Engine{
		separator:     sep,
		inputReports:  make(map[string]*InputReport),
		fields:        make(map[string]*Field),
		outputReports: make(map[string]*OutputReport),
	}
}

// validateName rejects a report or field name that the id separator would
// make ambiguous to parse back apart, or that is not a plain identifier.
func (e *Engine) validateName(kind, name string) error {
	if err := nameValidator.ValidateVar(name, "field_name="+e.separator); err != nil {
		return errors.InvalidArgument(kind+" name "+name+" is not a valid identifier for separator "+e.separator, err)
	}
	return nil
}

// Input registers an input report type. idField must be one of fields.
func (e *Engine) Input(name, idField string, fields ...string) error {
	if err := e.validateName("input report", name); err != nil {
		return err
	}
	if _, exists := e.inputReports[name]; exists {
		return errors.InvalidArgument("duplicate input report name: "+name, nil)
	}
	foundID := false
	for _, f := range fields {
		if err := e.validateName("field", f); err != nil {
			return err
		}
		if f == idField {
			foundID = true
		}
		if _, exists := e.fields[f]; exists {
			return errors.InvalidArgument("duplicate field name: "+f, nil)
		}
		e.fields[f] = &Field{Name: f, Derived: false, InputReport: name}
		e.order = append(e.order, f)
	}
	if !foundID {
		return errors.InvalidArgument("id_field "+idField+" is not among "+name+"'s fields", nil)
	}
	e.inputReports[name] = &InputReport{Name: name, IDField: idField, Fields: fields}
	return nil
}

// Field registers an artificial field with its current and historical
// dependencies and its computation function.
func (e *Engine) Field(name string, current []string, historical []Historical, fn FieldFunc) error {
	if err := e.validateName("field", name); err != nil {
		return err
	}
	if _, exists := e.fields[name]; exists {
		return errors.InvalidArgument("duplicate field name: "+name, nil)
	}
	if fn == nil {
		return errors.InvalidArgument("field "+name+" has no computation function", nil)
	}
	e.fields[name] = &Field{
		Name:       name,
		Derived:    true,
		Current:    current,
		Historical: historical,
		Fn:         fn,
	}
	e.order = append(e.order, name)
	return nil
}

// Output registers an output report referencing existing fields.
func (e *Engine) Output(name string, fields ...string) error {
	if err := e.validateName("output report", name); err != nil {
		return err
	}
	if _, exists := e.outputReports[name]; exists {
		return errors.InvalidArgument("duplicate output report name: "+name, nil)
	}
	e.outputReports[name] = &OutputReport{Name: name, Fields: fields}
	return nil
}

// Separator returns the message-id separator the engine was built with.
func (e *Engine) Separator() string {
	return e.separator
}
