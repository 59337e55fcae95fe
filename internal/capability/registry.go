package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCard represents registry metadata for a capability tool.
type ToolCard struct {
	Name         string                 `json:"name"`
	Version      string                 `json:"version"`
	Description  string                 `json:"description"`
	InputSchema  map[string]interface{} `json:"input_schema"`
	OutputSchema map[string]interface{} `json:"output_schema"`
	Checksum     string                 `json:"checksum"`
	Signature    string                 `json:"signature"`
}

// DefaultToolCards returns built-in ToolCards for the analysis tools.
func DefaultToolCards() []ToolCard {
	object := func(props map[string]interface{}, required ...string) map[string]interface{} {
		schema := map[string]interface{}{
			"$schema":    "https://json-schema.org/draft/2020-12/schema",
			"type":       "object",
			"properties": props,
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	queryInput := object(map[string]interface{}{
		"query": map[string]interface{}{"type": "string"},
	}, "query")
	return []ToolCard{
		{
			Name:        "complexity_check",
			Version:     "v1",
			Description: "Classifies a user question as simple or complex and explains why",
			InputSchema: queryInput,
			OutputSchema: object(map[string]interface{}{
				"is_complex": map[string]interface{}{"type": "boolean"},
				"reason":     map[string]interface{}{"type": "string"},
				"indicators": map[string]interface{}{"type": "array"},
			}),
		},
		{
			Name:        "problem_decompose",
			Version:     "v1",
			Description: "Decomposes a complex question into ordered, dependent sub-questions",
			InputSchema: queryInput,
			OutputSchema: object(map[string]interface{}{
				"sub_problems": map[string]interface{}{"type": "array"},
			}),
		},
	}
}

// Registry holds validated ToolCards keyed by tool name.
type Registry struct {
	tools map[string]ToolCard
}

// ErrToolMissing indicates a required tool is not registered.
var ErrToolMissing = fmt.Errorf("required tool missing")

// NewRegistry validates ToolCards and ensures required tools exist.
func NewRegistry(cards []ToolCard, signingSecret string, required []string) (*Registry, error) {
	reg := &Registry{tools: make(map[string]ToolCard)}
	for _, tc := range cards {
		if err := validateSignature(tc, signingSecret); err != nil {
			return nil, fmt.Errorf("tool %s@%s signature invalid: %w", tc.Name, tc.Version, err)
		}
		existing, ok := reg.tools[tc.Name]
		if !ok || versionGreater(tc.Version, existing.Version) {
			reg.tools[tc.Name] = tc
		}
	}
	if len(required) == 0 {
		required = []string{"complexity_check", "problem_decompose"}
	}
	for _, r := range required {
		if _, ok := reg.tools[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolMissing, r)
		}
	}
	return reg, nil
}

// Tool returns the ToolCard for a tool name.
func (r *Registry) Tool(name string) (ToolCard, bool) {
	if r == nil {
		return ToolCard{}, false
	}
	tc, ok := r.tools[name]
	return tc, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ValidateArgs checks tool arguments against the registered input schema.
// Required fields must be present; fields declared as strings must be strings.
func (r *Registry) ValidateArgs(name string, args map[string]interface{}) error {
	tc, ok := r.Tool(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolMissing, name)
	}
	for _, field := range requiredFields(tc.InputSchema) {
		v, present := args[field]
		if !present {
			return fmt.Errorf("tool %s: missing required argument %q", name, field)
		}
		if fieldType(tc.InputSchema, field) == "string" {
			if _, isStr := v.(string); !isStr {
				return fmt.Errorf("tool %s: argument %q must be a string", name, field)
			}
		}
	}
	return nil
}

func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fieldType(schema map[string]interface{}, field string) string {
	props, _ := schema["properties"].(map[string]interface{})
	prop, _ := props[field].(map[string]interface{})
	t, _ := prop["type"].(string)
	return t
}

// ValidateToolCard checks structural validity of a card before registration.
func ValidateToolCard(tc ToolCard) error {
	if strings.TrimSpace(tc.Name) == "" {
		return fmt.Errorf("tool card name required")
	}
	if strings.TrimSpace(tc.Version) == "" {
		return fmt.Errorf("tool card version required")
	}
	for _, schema := range []map[string]interface{}{tc.InputSchema, tc.OutputSchema} {
		if schema == nil {
			return fmt.Errorf("tool card %s: schema required", tc.Name)
		}
		if typ, present := schema["type"]; present {
			if _, ok := typ.(string); !ok {
				return fmt.Errorf("tool card %s: schema type must be a string", tc.Name)
			}
		}
	}
	return nil
}

// VerifyChecksum recomputes the card checksum and compares it to the stored one.
func VerifyChecksum(tc ToolCard) error {
	expected, err := ComputeChecksum(tc)
	if err != nil {
		return err
	}
	if expected != tc.Checksum {
		return fmt.Errorf("tool card %s: checksum mismatch", tc.Name)
	}
	return nil
}

// ComputeChecksum returns a deterministic hash of the ToolCard payload (excluding signature field).
func ComputeChecksum(tc ToolCard) (string, error) {
	payload := map[string]interface{}{
		"name":          tc.Name,
		"version":       tc.Version,
		"description":   tc.Description,
		"input_schema":  tc.InputSchema,
		"output_schema": tc.OutputSchema,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// SignToolCard computes an HMAC signature using the signing secret.
func SignToolCard(tc ToolCard, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(tc)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func validateSignature(tc ToolCard, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignToolCard(tc, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(tc.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func versionGreater(a, b string) bool {
	if a == b {
		return false
	}
	// naive semver compare
	return stringsCompare(splitVersion(a), splitVersion(b)) > 0
}

func splitVersion(v string) []int {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		fmt.Sscanf(p, "%d", &out[i])
	}
	return out
}

func stringsCompare(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai, bi := 0, 0
		if i < len(a) {
			ai = a[i]
		}
		if i < len(b) {
			bi = b[i]
		}
		if ai > bi {
			return 1
		}
		if ai < bi {
			return -1
		}
	}
	return 0
}
