package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ResponseSchema is the structured response the model must return.
type ResponseSchema struct {
	QueryExpression string `json:"query_expression" jsonschema:"a single line of code using the preloaded table mapping"`
}

type responseSchema struct {
	resolved *jsonschema.Resolved
	json     string
}

var (
	respSchema     *responseSchema
	respSchemaOnce sync.Once
	respSchemaErr  error
)

// loadResponseSchema reflects and resolves ResponseSchema once.
func loadResponseSchema() (*responseSchema, error) {
	respSchemaOnce.Do(func() {
		schema, err := jsonschema.For[ResponseSchema](nil)
		if err != nil {
			respSchemaErr = fmt.Errorf("failed to create response schema: %w", err)
			return
		}
		// Models sometimes add fields of their own; only query_expression matters.
		schema.AdditionalProperties = &jsonschema.Schema{}

		resolved, err := schema.Resolve(nil)
		if err != nil {
			respSchemaErr = fmt.Errorf("failed to resolve response schema: %w", err)
			return
		}
		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			respSchemaErr = fmt.Errorf("failed to marshal response schema: %w", err)
			return
		}
		respSchema = &responseSchema{resolved: resolved, json: string(data)}
	})
	return respSchema, respSchemaErr
}

// FormatInstructions tells the model how to shape its response.
func FormatInstructions() (string, error) {
	s, err := loadResponseSchema()
	if err != nil {
		return "", err
	}
	return "The output should be a markdown code snippet formatted in the following schema, " +
		"including the leading and trailing \"```json\" and \"```\":\n\n" +
		"```json\n" + `{"query_expression": string  // a single line of code using the preloaded table mapping}` + "\n```\n\n" +
		"JSON Schema of the response:\n" + s.json, nil
}

// ParseResponse extracts the query expression from a model response.
func ParseResponse(text string) (string, error) {
	s, err := loadResponseSchema()
	if err != nil {
		return "", err
	}

	jsonStr := extractJSON(text)
	if jsonStr == "" {
		return "", errors.New("no JSON object found in response")
	}

	var instance map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &instance); err != nil {
		return "", fmt.Errorf("invalid JSON in response: %w", err)
	}
	if err := s.resolved.Validate(instance); err != nil {
		return "", fmt.Errorf("response does not match schema: %w", err)
	}

	var resp ResponseSchema
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return "", fmt.Errorf("invalid JSON in response: %w", err)
	}
	expr := strings.TrimSpace(resp.QueryExpression)
	if expr == "" {
		return "", errors.New("query_expression is empty")
	}
	return expr, nil
}

// extractJSON finds the JSON object in a response: a ```json block, a generic
// code block, or a bare object.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}

	return ""
}

// extractJSONObject extracts a complete JSON object starting at start, skipping
// braces inside strings.
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
