// Package stepconf fills configuration structs from environment variables.
//
// Fields are bound with an env tag: `env:"NAME[,required][,opt[a,b,'c,d']]"`.
// Supported field kinds are string, bool, int, int64, []string ('|' separated)
// and pointers to these.
package stepconf

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/colorstring"
	"github.com/bitrise-io/go-utils/v2/env"
)

const (
	rangeRequired = "required"
	optionPrefix  = "opt["
	optionSuffix  = "]"
	listSeparator = "|"
)

// ErrNotStructPtr indicates a type is not a pointer to a struct.
var ErrNotStructPtr = errors.New("must be a pointer to a struct")

// ParseError occurs when a struct field cannot be set.
type ParseError struct {
	Field string
	Value string
	Err   error
}

// Error implements builtin errors.Error.
func (e *ParseError) Error() string {
	segments := []string{e.Field}
	if e.Value != "" {
		segments = append(segments, e.Value)
	}
	segments = append(segments, e.Err.Error())
	return strings.Join(segments, ": ")
}

// Unwrap returns the reason the field could not be set.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Secret variables are not shown in the printed output.
type Secret string

const secret = "*****"

// String implements fmt.Stringer.String.
// When a Secret is printed, it's masking the underlying string with asterisks.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secret
}

// Parse populates a struct with the retrieved values from environment variables
// described by struct tags and applies the defined validations.
func Parse(conf interface{}) error {
	return parse(conf, env.NewRepository())
}

func parse(conf interface{}, envRepository env.Repository) error {
	c := reflect.ValueOf(conf)
	if c.Kind() != reflect.Ptr || c.IsNil() {
		return ErrNotStructPtr
	}
	c = c.Elem()
	if c.Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	t := c.Type()

	var errs []string
	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)
		value := envRepository.Get(key)

		if err := setField(c.Field(i), value, constraint); err != nil {
			parseErr := &ParseError{Field: t.Field(i).Name, Value: value, Err: err}
			if t.Field(i).Type == reflect.TypeOf(Secret("")) {
				parseErr.Value = ""
			}
			errs = append(errs, parseErr.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to parse config:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}

// parseTag splits a struct field's env tag into the variable name and its constraint.
func parseTag(tag string) (string, string) {
	if !strings.Contains(tag, ",") {
		return tag, ""
	}
	parts := strings.SplitN(tag, ",", 2)
	return parts[0], parts[1]
}

func setField(field reflect.Value, value, constraint string) error {
	if err := validateConstraint(value, constraint); err != nil {
		return err
	}

	if value == "" {
		return nil
	}

	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		field = field.Elem()
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return errors.New("can't convert to bool")
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return errors.New("can't convert to int")
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("type is not supported (%s)", field.Type())
		}
		field.Set(reflect.ValueOf(strings.Split(value, listSeparator)))
	default:
		return fmt.Errorf("type is not supported (%s)", field.Kind())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func validateConstraint(value, constraint string) error {
	switch {
	case constraint == "":
	case constraint == rangeRequired:
		if value == "" {
			return errors.New("required variable is not present")
		}
	case strings.HasPrefix(constraint, optionPrefix) && strings.HasSuffix(constraint, optionSuffix):
		if !contains(value, constraint) {
			return errors.New("value is not in value options")
		}
	default:
		return fmt.Errorf("invalid constraint (%s)", constraint)
	}
	return nil
}

// contains reports whether value is listed in an opt[...] constraint.
// Options containing a comma are single quoted.
func contains(value, constraint string) bool {
	options := strings.TrimSuffix(strings.TrimPrefix(constraint, optionPrefix), optionSuffix)
	for _, option := range splitOptions(options) {
		if option == value {
			return true
		}
	}
	return false
}

func splitOptions(options string) []string {
	var result []string
	var current strings.Builder
	quoted := false
	for _, r := range options {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ',' && !quoted:
			result = append(result, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(result, current.String())
}

// Print the name of the struct with Title case in blue color followed by a newline,
// then print all fields formatted as '- field name: field value` separated by newline.
func Print(config interface{}) {
	fmt.Print(toString(config))
}

func toString(config interface{}) string {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()

	str := colorstring.Bluef("%s:\n", title(t.Name()))
	for i := 0; i < t.NumField(); i++ {
		if !t.Field(i).IsExported() {
			continue
		}
		name := t.Field(i).Name
		if tag, ok := t.Field(i).Tag.Lookup("env"); ok {
			name, _ = parseTag(tag)
		}

		value := valueString(v.Field(i))
		if value == "" || (v.Field(i).Kind() != reflect.String && v.Field(i).IsZero()) {
			value = "<unset>"
		}
		str += fmt.Sprintf("- %s: %s\n", name, value)
	}

	return str
}

func title(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// valueString returns the printable form of a field, dereferencing pointers.
func valueString(v reflect.Value) string {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	if stringer, ok := v.Interface().(fmt.Stringer); ok {
		return stringer.String()
	}
	return fmt.Sprintf("%v", v.Interface())
}
