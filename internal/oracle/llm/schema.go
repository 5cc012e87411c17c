package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed plan_response.json
var planResponseJSON string

//go:embed repair_response.json
var repairResponseJSON string

var (
	compileOnce  sync.Once
	planSchema   *jsonschema.Schema
	repairSchema *jsonschema.Schema
	compileErr   error
)

func responseSchemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("plan_response.json", strings.NewReader(planResponseJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		if err := compiler.AddResource("repair_response.json", strings.NewReader(repairResponseJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		var err error
		if planSchema, err = compiler.Compile("plan_response.json"); err != nil {
			compileErr = fmt.Errorf("compile plan response schema: %w", err)
			return
		}
		if repairSchema, err = compiler.Compile("repair_response.json"); err != nil {
			compileErr = fmt.Errorf("compile repair response schema: %w", err)
		}
	})
	return planSchema, repairSchema, compileErr
}

// decodeResponse extracts the JSON object from a model reply, validates it against schema
// and decodes it into out.
func decodeResponse(text string, schema *jsonschema.Schema, out interface{}) error {
	raw := extractFirstJSON(stripFences(text))
	if raw == "" {
		return fmt.Errorf("response contains no JSON object")
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return json.Unmarshal([]byte(raw), out)
}
