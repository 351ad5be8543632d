package validate

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateJSON validates an object (already converted to JSON) with the given schema.
func ValidateJSON(obj any, schemaSrc string) error {
	sch, err := compile(schemaSrc)
	if err != nil {
		return err
	}
	return sch.Validate(obj)
}

// Definitions validates a decoded servers document.
func Definitions(doc any) error {
	sch, err := definitionsSchema()
	if err != nil {
		return err
	}
	return sch.Validate(doc)
}

// Settings validates a decoded settings document.
func Settings(doc any) error {
	sch, err := settingsSchemaC()
	if err != nil {
		return err
	}
	return sch.Validate(doc)
}

// Normalize converts a decoded document (TOML dates, int64) into the value
// shapes encoding/json produces, which the validator expects.
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	definitionsSchema = sync.OnceValues(func() (*jsonschema.Schema, error) { return compile(serversSchema) })
	settingsSchemaC   = sync.OnceValues(func() (*jsonschema.Schema, error) { return compile(settingsSchema) })
)

func compile(src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("mem://schema.json", strings.NewReader(src)); err != nil {
		return nil, err
	}
	return c.Compile("mem://schema.json")
}

const serversSchema = `{
  "$schema":"https://json-schema.org/draft/2020-12/schema",
  "type":"object",
  "properties":{
    "servers":{
      "type":"array",
      "items":{
        "type":"object",
        "required":["id","entry"],
        "properties":{
          "id":{"type":"string","minLength":1},
          "name":{"type":"string"},
          "entry":{
            "type":"object",
            "required":["kind"],
            "properties":{
              "kind":{"type":"string","enum":["jar","class","script"]},
              "jar_path":{"type":"string"},
              "main_class":{"type":"string"},
              "script_path":{"type":"string"}
            }
          },
          "jvm_flags":{"type":"array","items":{"type":"string"}},
          "args":{"type":"array","items":{"type":"string"}},
          "env":{"type":"object","additionalProperties":{"type":"string"}},
          "policy":{
            "type":"object",
            "properties":{
              "restart_on_crash":{"type":"boolean"},
              "max_restarts":{"type":"integer","minimum":0},
              "stop_signal":{"type":"string"}
            }
          },
          "workspace":{
            "type":"object",
            "properties":{
              "id":{"type":"string"},
              "path":{"type":"string"}
            }
          },
          "lock_files":{"type":"array","items":{"type":"string"}}
        }
      }
    }
  }
}`

const settingsSchema = `{
  "$schema":"https://json-schema.org/draft/2020-12/schema",
  "type":"object",
  "properties":{
    "metrics_interval":{"type":"string"},
    "stop_strategy":{"type":"string","enum":["signal-then-manual","signal-then-auto","immediate"]},
    "runtime_path":{"type":"string"},
    "last_started":{"type":"array","items":{"type":"string"}}
  }
}`
