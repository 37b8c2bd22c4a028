package mcprt

// Small JSON Schema builders for static tool tables.

// Prop is one named property of an object schema.
type Prop struct {
	Name     string
	Schema   map[string]any
	Required bool
}

// Object builds {"type":"object"} from props.
func Object(props []Prop) map[string]any {
	properties := make(map[string]any, len(props))
	var required []string
	for _, p := range props {
		properties[p.Name] = p.Schema
		if p.Required {
			required = append(required, p.Name)
		}
	}
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func String(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func Enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

func Integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func Number(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func Boolean(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// Array of items, bounded by maxItems when > 0.
func Array(desc string, items map[string]any, maxItems int) map[string]any {
	s := map[string]any{"type": "array", "description": desc, "items": items}
	if maxItems > 0 {
		s["minItems"] = 1
		s["maxItems"] = maxItems
	}
	return s
}
