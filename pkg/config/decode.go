package config

import (
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/ajitpratap0/xetra/pkg/errors"
)

// DecodeStrict expands fields into the struct pointed to by out, the way a
// keyword-argument constructor would. Every key must match a mapstructure tag
// of out and every tagged field must be present.
//
// Unknown keys are reported with ErrorTypeUnrecognizedParameter and missing
// keys with ErrorTypeMissingParameter; in both cases out is left untouched.
func DecodeStrict(section string, fields map[string]interface{}, out interface{}) error {
	return decode(section, fields, out, nil)
}

// DecodeWithOptional behaves like DecodeStrict but tolerates the absence of
// the listed keys, leaving their fields at whatever value out already holds.
func DecodeWithOptional(section string, fields map[string]interface{}, out interface{}, optional ...string) error {
	return decode(section, fields, out, optional)
}

func decode(section string, fields map[string]interface{}, out interface{}, optional []string) error {
	if fields == nil {
		fields = map[string]interface{}{}
	}

	// Dry run against metadata first so a failed decode constructs nothing.
	probe, err := newProbe(out)
	if err != nil {
		return err
	}
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           probe,
		WeaklyTypedInput: true,
		MatchName:        func(key, field string) bool { return key == field },
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build decoder")
	}
	if err := dec.Decode(fields); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid "+section+" parameters").
			WithDetail("section", section)
	}

	if len(md.Unused) > 0 {
		unused := append([]string(nil), md.Unused...)
		sort.Strings(unused)
		return errors.Newf(errors.ErrorTypeUnrecognizedParameter,
			"unrecognized %s parameter(s): %s", section, strings.Join(unused, ", ")).
			WithDetail("section", section).
			WithDetail("keys", unused)
	}

	missing := filterOptional(md.Unset, optional)
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Newf(errors.ErrorTypeMissingParameter,
			"missing %s parameter(s): %s", section, strings.Join(missing, ", ")).
			WithDetail("section", section).
			WithDetail("keys", missing)
	}

	return copyInto(out, probe)
}

func filterOptional(unset, optional []string) []string {
	if len(optional) == 0 {
		return append([]string(nil), unset...)
	}
	skip := make(map[string]struct{}, len(optional))
	for _, k := range optional {
		skip[k] = struct{}{}
	}
	var missing []string
	for _, k := range unset {
		if _, ok := skip[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// newProbe returns a pointer to a copy of *out.
func newProbe(out interface{}) (interface{}, error) {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, errors.Newf(errors.ErrorTypeInternal, "decode target must be a non-nil struct pointer, got %T", out)
	}
	probe := reflect.New(rv.Elem().Type())
	probe.Elem().Set(rv.Elem())
	return probe.Interface(), nil
}

func copyInto(out, probe interface{}) error {
	reflect.ValueOf(out).Elem().Set(reflect.ValueOf(probe).Elem())
	return nil
}
