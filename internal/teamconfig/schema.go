package teamconfig

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/zhattention/agent-studio/internal/models"
)

//go:embed team.schema.json
var teamSchemaJSON []byte

const teamSchemaURL = "team.schema.json"

func compileSchema() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(teamSchemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(teamSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(teamSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// checkDocument validates the stored form of a team document.
func checkDocument(schema *jsonschema.Schema, data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	return nil
}
