package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pybrook/pybrook/pkg/errors"
)

// CycleError names every field on a detected current-dependency cycle.
type CycleError struct {
	Fields []string
}

func (e *CycleError) Error() string {
	return "dependency cycle among fields: " + strings.Join(e.Fields, " -> ")
}

// SplitterPlan is what the runtime needs to launch one splitter role.
type SplitterPlan struct {
	Report InputReport
	// HistoryFields lists the report's source fields that some derived
	// field declares a historical dependency on. Source fields have no
	// generator of their own, so the splitter is the one that must push
	// their values onto the (sourceId, field) ring buffer.
	HistoryFields []string
	// HistoryWindow maps each entry of HistoryFields to the maximum window
	// length any consumer declared for it, the ring buffer's cap K.
	HistoryWindow map[string]int
}

// GeneratorPlan is what the runtime needs to launch one generator role.
type GeneratorPlan struct {
	Field Field
	// Observers lists fields that declare Field.Name as a historical
	// dependency, so the generator knows whose ring buffer to update.
	Observers []string
	// HistoryWindow is the ring buffer cap K for this field, the maximum
	// window any observer declared. Zero when Observers is empty.
	HistoryWindow int
}

// ResolverPlan is what the runtime needs to launch one resolver role.
type ResolverPlan struct {
	Report OutputReport
}

// Plan is the compiled, static execution graph: one splitter per input
// report, one generator per artificial field (in dependency order), one
// resolver per output report.
type Plan struct {
	Separator  string
	Splitters  []SplitterPlan
	Generators []GeneratorPlan
	Resolvers  []ResolverPlan
	// FieldStream maps every field name to the broker stream its values are
	// published on: "<report>:<field>" for source fields, and just
	// "<field>" for derived fields, since a derived field is not scoped to
	// any one input report.
	FieldStream map[string]string
}

// IdentityStream returns the identity sub-stream name for report, which
// carries (message-id, sourceId, seq) triples for generators that need the
// source id itself.
func IdentityStream(report string) string {
	return report + ":_id"
}

// DLQStream returns the dead-letter stream name for report.
func DLQStream(report string) string {
	return report + ":_dlq"
}

// Compile validates the registry and produces a Plan, failing with a named
// error on any compile-time error: unknown field reference, dependency
// cycle, history on an unknown field, duplicate report name (already
// rejected by the registry methods), missing id_field (also rejected
// eagerly).
func (e *Engine) Compile() (*Plan, error) {
	if err := e.validateReferences(); err != nil {
		return nil, err
	}

	order, err := e.topologicalOrder()
	if err != nil {
		return nil, err
	}

	observers := e.observerSets()
	windows := e.maxWindows()

	plan := &Plan{Separator: e.separator, FieldStream: make(map[string]string)}

	for _, name := range e.order {
		f := e.fields[name]
		if f.Derived {
			plan.FieldStream[name] = name
		} else {
			plan.FieldStream[name] = f.InputReport + ":" + name
		}
	}

	for _, name := range e.inputOrder() {
		report := e.inputReports[name]
		var historyFields []string
		historyWindow := make(map[string]int)
		for _, field := range report.Fields {
			if len(observers[field]) > 0 {
				historyFields = append(historyFields, field)
				historyWindow[field] = windows[field]
			}
		}
		plan.Splitters = append(plan.Splitters, SplitterPlan{Report: *report, HistoryFields: historyFields, HistoryWindow: historyWindow})
	}

	for _, name := range order {
		f := e.fields[name]
		plan.Generators = append(plan.Generators, GeneratorPlan{
			Field:         *f,
			Observers:     observers[name],
			HistoryWindow: windows[name],
		})
	}

	for _, name := range e.outputOrder() {
		plan.Resolvers = append(plan.Resolvers, ResolverPlan{Report: *e.outputReports[name]})
	}

	return plan, nil
}

func (e *Engine) inputOrder() []string {
	names := make([]string, 0, len(e.inputReports))
	for name := range e.inputReports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) outputOrder() []string {
	names := make([]string, 0, len(e.outputReports))
	for name := range e.outputReports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateReferences rejects dependencies and output fields naming fields
// that were never registered.
func (e *Engine) validateReferences() error {
	for _, name := range e.order {
		f := e.fields[name]
		if !f.Derived {
			continue
		}
		for _, dep := range f.Current {
			if _, ok := e.fields[dep]; !ok {
				return errors.InvalidArgument(fmt.Sprintf("field %q references unknown current dependency %q", name, dep), nil)
			}
		}
		for _, dep := range f.Historical {
			if _, ok := e.fields[dep.Name]; !ok {
				return errors.InvalidArgument(fmt.Sprintf("field %q references unknown historical dependency %q", name, dep.Name), nil)
			}
		}
	}
	for outName, out := range e.outputReports {
		for _, field := range out.Fields {
			if _, ok := e.fields[field]; !ok {
				return errors.InvalidArgument(fmt.Sprintf("output report %q references unknown field %q", outName, field), nil)
			}
		}
	}
	return nil
}

// observerSets maps a field name to the derived fields that declare it as a
// historical dependency.
func (e *Engine) observerSets() map[string][]string {
	out := make(map[string][]string)
	for _, name := range e.order {
		f := e.fields[name]
		if !f.Derived {
			continue
		}
		for _, dep := range f.Historical {
			out[dep.Name] = append(out[dep.Name], name)
		}
	}
	return out
}

// maxWindows maps a field name to the largest historical window any
// consumer declared for it, across both derived and source fields.
func (e *Engine) maxWindows() map[string]int {
	out := make(map[string]int)
	for _, name := range e.order {
		f := e.fields[name]
		if !f.Derived {
			continue
		}
		for _, dep := range f.Historical {
			if dep.Window > out[dep.Name] {
				out[dep.Name] = dep.Window
			}
		}
	}
	return out
}

// topologicalOrder runs Kahn's algorithm over the current-dependency
// subgraph restricted to derived fields, exempting self-history edges from
// cycle detection: a field's historical dependency on itself never
// contributes a current-dependency edge, so it cannot itself cause a cycle,
// but a field's historical dependency on ANOTHER field also never
// contributes a current edge, only Current dependencies do.
func (e *Engine) topologicalOrder() ([]string, error) {
	derived := make([]string, 0)
	inDegree := make(map[string]int)
	edgesFrom := make(map[string][]string) // dep -> dependents

	for _, name := range e.order {
		f := e.fields[name]
		if !f.Derived {
			continue
		}
		derived = append(derived, name)
		inDegree[name] = 0
	}

	for _, name := range derived {
		f := e.fields[name]
		for _, dep := range f.Current {
			if _, isDerived := inDegree[dep]; !isDerived {
				continue // dependency is a source field, not part of this subgraph
			}
			edgesFrom[dep] = append(edgesFrom[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for _, name := range derived {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		next := append([]string(nil), edgesFrom[n]...)
		sort.Strings(next)
		for _, dependent := range next {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(derived) {
		var remaining []string
		for _, name := range derived {
			if inDegree[name] > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Fields: remaining}
	}

	return order, nil
}
