package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Response schemas enforced at the service boundary. Numeric fields must be
// JSON numbers; anything else is a parse failure, not a decision.

const entrySchemaJSON = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["enter", "skip", "wait"]},
    "direction": {"type": "string", "enum": ["long", "short"]},
    "entry_price": {"type": "number"},
    "pending_price": {"type": "number"},
    "stop_loss": {"type": "number"},
    "take_profit": {"type": "number"},
    "risk_pct": {"type": "number"},
    "confidence": {"type": "integer"},
    "reasoning": {"type": "string"}
  },
  "if": {"properties": {"action": {"const": "enter"}}},
  "then": {"required": ["direction", "pending_price", "stop_loss", "take_profit"]}
}`

const followupSchemaJSON = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["hold", "wait", "adjust", "exit"]},
    "stop_loss": {"type": "number"},
    "take_profit": {"type": "number"},
    "reasoning": {"type": "string"}
  }
}`

var (
	entrySchema    = mustCompileSchema("entry.json", entrySchemaJSON)
	followupSchema = mustCompileSchema("followup.json", followupSchemaJSON)
)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("decision schema %s: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("decision schema %s: %v", name, err))
	}
	return sch
}

// ParseResponse extracts the JSON object from raw service output, validates
// it against the role's schema, and decodes it. Any violation yields
// ErrMalformedResponse.
func ParseResponse(role Role, raw string) (Response, error) {
	body, err := CoerceResponseJSON(raw)
	if err != nil {
		return Response{}, err
	}

	var generic any
	if uerr := json.Unmarshal([]byte(body), &generic); uerr != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, uerr)
	}

	sch := entrySchema
	if role == RoleFollowup {
		sch = followupSchema
	}
	if verr := sch.Validate(generic); verr != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, verr)
	}

	var resp Response
	if uerr := json.Unmarshal([]byte(body), &resp); uerr != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, uerr)
	}
	resp.Action = NormalizeAction(resp.Action)
	if role == RoleEntry && resp.Action == ActionHold {
		// "wait" normalizes to hold; at entry stage that means skip.
		resp.Action = ActionSkip
	}
	resp.Raw = raw
	return resp, nil
}
