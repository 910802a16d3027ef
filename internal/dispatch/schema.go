package dispatch

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/IntelLabs/vdms-go/cmn"
)

//go:embed schema/commands.yaml
var schemaDoc []byte

// validator checks each command object against the API schema document,
// aggregating every violation across the whole request before anything
// touches the graph.
type validator struct {
	schemas openapi3.Schemas
}

func newValidator() (*validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("dispatch: loading command schema: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("dispatch: command schema is invalid: %w", err)
	}
	return &validator{schemas: doc.Components.Schemas}, nil
}

// validateBatch checks every command in the decoded batch; the returned
// error, if any, lists every violation found.
func (v *validator) validateBatch(cmds []rawCommand) error {
	var faults []string
	for i, rc := range cmds {
		if err := v.validateOne(rc); err != nil {
			faults = append(faults, fmt.Sprintf("command %d (%s): %v", i, rc.Name, err))
		}
	}
	if len(faults) > 0 {
		return cmn.NewErr(cmn.Error, "schema validation failed: %s", strings.Join(faults, "; "))
	}
	return nil
}

func (v *validator) validateOne(rc rawCommand) error {
	ref, ok := v.schemas[rc.Name]
	if !ok {
		return fmt.Errorf("unrecognized command")
	}
	var body any
	if err := json.Unmarshal(rc.Body, &body); err != nil {
		return err
	}
	if err := ref.Value.VisitJSON(body, openapi3.MultiErrors()); err != nil {
		return err
	}
	// Post-check the schema cannot express: a constraint array has size 2
	// (single op + value) or 4 (range), never 3.
	return checkConstraintArity(body)
}

func checkConstraintArity(body any) error {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	cons, ok := obj["constraints"].(map[string]any)
	if !ok {
		return nil
	}
	for key, raw := range cons {
		arr, ok := raw.([]any)
		if !ok {
			continue
		}
		if len(arr) != 2 && len(arr) != 4 {
			return fmt.Errorf("constraint %q has %d elements, want 2 or 4", key, len(arr))
		}
	}
	return nil
}
