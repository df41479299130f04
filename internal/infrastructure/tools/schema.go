package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// schemaFor は入力構造体からJSON Schemaオブジェクトを生成
func schemaFor(v interface{}) map[string]interface{} {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}
