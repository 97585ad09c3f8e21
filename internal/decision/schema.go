package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// planSchema 只约束外形；数值允许字符串，具体强转在 parser 中完成。
const planSchema = `{
  "type": "object",
  "required": ["per_asset_decisions"],
  "properties": {
    "per_asset_decisions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "asset": {"type": "string"},
          "decision": {"type": "string"},
          "thesis": {"type": ["string", "null"]},
          "execution": {"type": ["object", "null"]},
          "risk_management": {
            "type": ["object", "null"],
            "properties": {
              "stop_loss_price": {"type": ["number", "string", "null"]},
              "take_profit_price": {"type": ["number", "string", "null"]},
              "take_profit_targets": {"type": ["array", "number", "string", "null"]},
              "monitoring_prices": {"type": ["array", "string", "null"]}
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schemaVal  *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan.json", strings.NewReader(planSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaVal, schemaErr = compiler.Compile("plan.json")
	})
	return schemaVal, schemaErr
}

func validateSchema(raw string) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("plan schema compile failed: %w", err)
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("plan json decode failed: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("plan schema mismatch: %w", err)
	}
	return nil
}
