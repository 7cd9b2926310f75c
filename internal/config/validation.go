package config

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationMessage is one collected problem, keyed by the offending key.
type ValidationMessage struct {
	Key     string
	Message string
}

// ValidationErrors collects every problem of a validation pass. Warnings are
// kept apart and never make the bag fail.
type ValidationErrors struct {
	errors   []ValidationMessage
	warnings []ValidationMessage
}

func NewValidationErrors() *ValidationErrors { return &ValidationErrors{} }

func (v *ValidationErrors) AddError(key, message string) {
	v.errors = append(v.errors, ValidationMessage{Key: key, Message: message})
}

func (v *ValidationErrors) AddWarning(key, message string) {
	v.warnings = append(v.warnings, ValidationMessage{Key: key, Message: message})
}

func (v *ValidationErrors) HasErrors() bool { return len(v.errors) > 0 }

func (v *ValidationErrors) HasWarnings() bool { return len(v.warnings) > 0 }

func (v *ValidationErrors) Errors() []ValidationMessage { return v.errors }

func (v *ValidationErrors) Warnings() []ValidationMessage { return v.warnings }

func (v *ValidationErrors) Error() string {
	lines := make([]string, 0, len(v.errors))
	for _, e := range v.errors {
		lines = append(lines, "  - "+e.Message)
	}
	return fmt.Sprintf("configuration validation failed:\n%s", strings.Join(lines, "\n"))
}

// Err returns the bag as an error when it holds errors, nil otherwise.
func (v *ValidationErrors) Err() error {
	if v.HasErrors() {
		return v
	}
	return nil
}

// Validator checks a single mapping and reports into a shared bag. Every
// message is prefixed with a description of the checked section.
type Validator struct {
	data   *Node
	errors *ValidationErrors
	prefix string
}

func NewValidator(data *Node, errors *ValidationErrors, prefix string) *Validator {
	if data == nil {
		data = NewNode()
	}
	return &Validator{data: data, errors: errors, prefix: prefix}
}

func (v *Validator) ErrorBag() *ValidationErrors { return v.errors }

func (v *Validator) isSet(key string) bool {
	val, ok := v.data.Get(key)
	return ok && val != nil
}

func (v *Validator) HasKey(key, message string) bool {
	if !v.isSet(key) {
		v.errors.AddError(key, fmt.Sprintf("Missing key %s in %s: %s", key, v.prefix, message))
		return false
	}
	return true
}

// HasKeys checks every key of keys; the map values are the messages.
func (v *Validator) HasKeys(keys map[string]string) {
	for _, k := range sortedKeys(keys) {
		v.HasKey(k, keys[k])
	}
}

// Deprecate adds a warning for every present key.
func (v *Validator) Deprecate(keys map[string]string) {
	for _, k := range sortedKeys(keys) {
		if v.isSet(k) {
			v.errors.AddWarning(k, keys[k])
		}
	}
}

func (v *Validator) IsArray(key, message string) {
	if !v.HasKey(key, message) {
		return
	}
	val, _ := v.data.Get(key)
	switch val.(type) {
	case *Node, []any:
	default:
		v.errors.AddError(key, fmt.Sprintf("key %s not an array in %s: %s", key, v.prefix, message))
	}
}

func (v *Validator) IsOneOf(key string, candidates []string) {
	if !v.HasKey(key, "Candidates: "+strings.Join(candidates, ", ")) {
		return
	}
	val := v.data.String(key, "")
	for _, c := range candidates {
		if c == val {
			return
		}
	}
	v.errors.AddError(key, fmt.Sprintf("key %s has unrecognized value: %s in %s: Candidates are %s",
		key, val, v.prefix, strings.Join(candidates, ", ")))
}

func (v *Validator) CheckForValidFolderName(key string) bool {
	if !v.HasKey(key, "Missing key") {
		return false
	}
	val := v.data.String(key, "")
	if val != "/" && strings.HasSuffix(val, "/") {
		v.errors.AddError(key, fmt.Sprintf("key %s is ending with a directory separator, please change!", key))
		return false
	}
	return true
}

func (v *Validator) HasAtLeast(keys []string, message string) bool {
	for _, k := range keys {
		if v.isSet(k) {
			return true
		}
	}
	v.errors.AddError(strings.Join(keys, ", "), message)
	return false
}

// NewValidatorFor returns a validator for the sub-mapping at key, sharing
// the bag, or nil when key is missing or not a mapping.
func (v *Validator) NewValidatorFor(key string) *Validator {
	v.IsArray(key, "Sub-config needs to be an array")
	child := v.data.Child(key)
	if child == nil {
		return nil
	}
	return NewValidator(child, v.errors, v.prefix)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
