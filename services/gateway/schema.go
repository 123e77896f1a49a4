package gateway

import "github.com/pybrook/pybrook/pkg/model"

// SchemaDocument is the JSON body served at /pybrook-schema.json. It is
// derived mechanically from the compiled model.Plan so the document and the
// running engine can never drift, instead of being hand-maintained
// alongside it.
type SchemaDocument struct {
	Separator string           `json:"separator"`
	Inputs    []InputSchema    `json:"inputs"`
	Fields    []FieldSchema    `json:"fields"`
	Outputs   []OutputSchema   `json:"outputs"`
}

// InputSchema describes one POST-able input report.
type InputSchema struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	IDField string   `json:"id_field"`
	Fields  []string `json:"fields"`
}

// FieldSchema describes one field in the dependency graph, source or derived.
type FieldSchema struct {
	Name    string `json:"name"`
	Derived bool   `json:"derived"`
	Stream  string `json:"stream"`
}

// OutputSchema describes one WebSocket-streamable output report.
type OutputSchema struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Fields    []string `json:"fields"`
}

// DeriveSchema builds the schema document served to browser clients from a
// compiled plan.
func DeriveSchema(plan *model.Plan) SchemaDocument {
	doc := SchemaDocument{Separator: plan.Separator}

	for _, sp := range plan.Splitters {
		doc.Inputs = append(doc.Inputs, InputSchema{
			Name:    sp.Report.Name,
			Path:    "/input/" + sp.Report.Name,
			IDField: sp.Report.IDField,
			Fields:  sp.Report.Fields,
		})
	}

	for name, stream := range plan.FieldStream {
		derived := true
		for _, sp := range plan.Splitters {
			for _, f := range sp.Report.Fields {
				if f == name {
					derived = false
				}
			}
		}
		doc.Fields = append(doc.Fields, FieldSchema{Name: name, Derived: derived, Stream: stream})
	}

	for _, rp := range plan.Resolvers {
		doc.Outputs = append(doc.Outputs, OutputSchema{
			Name:   rp.Report.Name,
			Path:   "/stream/" + rp.Report.Name,
			Fields: rp.Report.Fields,
		})
	}

	return doc
}
