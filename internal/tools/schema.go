package tools

// Schema fragments shared by the tool definitions. Kept as plain
// map[string]interface{} literals so gojsonschema's Go loader can compile
// them without a marshalling round trip.

func schemaObject(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func schemaString(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func schemaEnum(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"enum":        values,
		"description": description,
	}
}

func schemaBool(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "boolean",
		"description": description,
	}
}

func schemaInt(description string, minimum int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"minimum":     minimum,
		"description": description,
	}
}

func schemaFraction(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "number",
		"minimum":     0,
		"maximum":     1,
		"description": description,
	}
}

// schemaLimit is the page-size argument shared by the list and search tools.
// No maximum is declared: values above the CRM page cap are clamped, not
// rejected.
func schemaLimit() map[string]interface{} {
	return schemaInt("Maximum number of records to return (1-100; larger values are clamped to 100)", 1)
}

// schemaEntityTypes matches the entity_types argument of the semantic tools.
func schemaEntityTypes() map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       schemaEnum("entity kind", "contacts", "companies", "deals", "engagements"),
		"description": "Entity kinds to include; all four when omitted",
	}
}

// schemaFilters builds the filters argument for a search tool. Only the named
// fields are accepted.
func schemaFilters(fields map[string]string) map[string]interface{} {
	props := make(map[string]interface{}, len(fields))
	for name, description := range fields {
		props[name] = schemaString(description)
	}
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
		"description":          "Search predicates, combined with AND",
	}
}
