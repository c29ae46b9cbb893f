package manifest

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/janus-ipc/janus/internal/protocol"
	"github.com/janus-ipc/janus/internal/security"
)

// Violation describes one argument validation failure.
type Violation struct {
	Argument string `json:"argument"`
	Message  string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Argument, v.Message)
}

// ValidateArgs checks args against spec and returns every violation found.
// Reserved built-in commands pass a nil spec and validate trivially.
func ValidateArgs(spec *CommandSpec, args map[string]any) []Violation {
	if spec == nil {
		return nil
	}
	var violations []Violation

	for name, argSpec := range spec.Arguments {
		if !argSpec.Required {
			continue
		}
		if _, present := args[name]; !present {
			violations = append(violations, Violation{Argument: name, Message: "required argument missing"})
		}
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		argSpec, declared := spec.Arguments[name]
		if !declared {
			violations = append(violations, Violation{Argument: name, Message: "unknown argument"})
			continue
		}
		violations = append(violations, validateValue(name, args[name], argSpec)...)
		if rpcErr := security.CheckArgs(map[string]any{name: args[name]}); rpcErr != nil {
			violations = append(violations, Violation{Argument: name, Message: rpcErr.Error()})
		}
	}
	return violations
}

// ViolationsError converts a non-empty violation list into the wire error.
func ViolationsError(violations []Violation) *protocol.JSONRPCError {
	if len(violations) == 0 {
		return nil
	}
	details := make([]any, 0, len(violations))
	for _, v := range violations {
		details = append(details, map[string]any{
			"argument": v.Argument,
			"message":  v.Message,
		})
	}
	return protocol.Errorf(protocol.CodeValidationError,
		"%d argument violation(s)", len(violations)).WithData("errors", details)
}

func validateValue(path string, value any, spec *ArgumentSpec) []Violation {
	var violations []Violation

	fail := func(format string, args ...any) {
		violations = append(violations, Violation{Argument: path, Message: fmt.Sprintf(format, args...)})
	}

	switch spec.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			fail("expected string, got %s", jsonTypeName(value))
			return violations
		}
		n := utf8.RuneCountInString(s)
		if spec.MinLength != nil && n < *spec.MinLength {
			fail("length %d below min_length %d", n, *spec.MinLength)
		}
		if spec.MaxLength != nil && n > *spec.MaxLength {
			fail("length %d above max_length %d", n, *spec.MaxLength)
		}
		if spec.Pattern != "" {
			re, err := regexp.Compile("^(?:" + spec.Pattern + ")$")
			if err != nil {
				fail("invalid pattern %q", spec.Pattern)
			} else if !re.MatchString(s) {
				fail("value does not match pattern %q", spec.Pattern)
			}
		}
	case TypeInteger:
		f, ok := numericValue(value)
		if !ok || math.Trunc(f) != f || f < math.MinInt64 || f > math.MaxInt64 {
			fail("expected integer, got %s", jsonTypeName(value))
			return violations
		}
		violations = append(violations, checkBounds(path, f, spec)...)
	case TypeNumber:
		f, ok := numericValue(value)
		if !ok {
			fail("expected number, got %s", jsonTypeName(value))
			return violations
		}
		violations = append(violations, checkBounds(path, f, spec)...)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			fail("expected boolean, got %s", jsonTypeName(value))
			return violations
		}
	case TypeArray:
		arr, ok := value.([]any)
		if !ok {
			fail("expected array, got %s", jsonTypeName(value))
			return violations
		}
		if spec.Items != nil {
			for i, elem := range arr {
				violations = append(violations,
					validateValue(fmt.Sprintf("%s[%d]", path, i), elem, spec.Items)...)
			}
		}
	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			fail("expected object, got %s", jsonTypeName(value))
			return violations
		}
		for name, prop := range spec.Properties {
			elem, present := obj[name]
			if !present {
				if prop.Required {
					violations = append(violations, Violation{
						Argument: path + "." + name, Message: "required property missing"})
				}
				continue
			}
			violations = append(violations, validateValue(path+"."+name, elem, prop)...)
		}
	}

	if len(spec.Enum) > 0 {
		matched := false
		for _, allowed := range spec.Enum {
			if jsonEqual(value, allowed) {
				matched = true
				break
			}
		}
		if !matched {
			fail("value not in enum")
		}
	}
	return violations
}

func checkBounds(path string, f float64, spec *ArgumentSpec) []Violation {
	var violations []Violation
	if spec.Minimum != nil && f < *spec.Minimum {
		violations = append(violations, Violation{
			Argument: path,
			Message:  fmt.Sprintf("value %v below minimum %v", f, *spec.Minimum),
		})
	}
	if spec.Maximum != nil && f > *spec.Maximum {
		violations = append(violations, Violation{
			Argument: path,
			Message:  fmt.Sprintf("value %v above maximum %v", f, *spec.Maximum),
		})
	}
	return violations
}

// numericValue accepts the number representations the JSON and YAML loaders
// produce. Booleans are not numbers.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int64, uint64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// jsonEqual is deep JSON equality with numeric values compared by value
// rather than by Go type.
func jsonEqual(a, b any) bool {
	if af, ok := numericValue(a); ok {
		bf, bok := numericValue(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, elem := range av {
			other, present := bv[k]
			if !present || !jsonEqual(elem, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ValidateResponse checks a handler result against the command's declared
// response shape. Commands without a response spec accept anything.
func ValidateResponse(spec *CommandSpec, result any) []Violation {
	if spec == nil || spec.Response == nil {
		return nil
	}
	return validateValue("result", result, spec.Response)
}
