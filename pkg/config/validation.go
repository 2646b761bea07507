package config

import (
	"reflect"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// Validator is implemented by configuration structs with rules beyond the
// `required` tag. Validate runs after required-field checks pass. An
// *sserr.Error is returned unchanged; any other error is wrapped with
// [sserr.CodeValidation].
//
// Example:
//
//	func (s *CookieSettings) Validate() error {
//	    if s.ExpireTimeSpan <= 0 {
//	        return sserr.New(sserr.CodeValidation, "config: expire_time_span must be positive")
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isSSErr := sserr.AsError(err); isSSErr {
				return err
			}
			return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
		}
	}
	return nil
}

// validateRequired checks `required:"true"` fields recursively. path is
// the dotted field path used in error messages (e.g., "Redis.Host").
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		if isNested(field) {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}
	return nil
}
