package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/docpipe/docpipe/internal/types"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// newValidator returns the shared validator with the custom tags
// registered: "stage" for stage names and "endpoint" for http(s) URLs.
func newValidator() *validator.Validate {
	validateOnce.Do(func() {
		vd := validator.New(validator.WithRequiredStructEnabled())
		_ = vd.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
			return types.IsStage(fl.Field().String())
		})
		_ = vd.RegisterValidation("endpoint", func(fl validator.FieldLevel) bool {
			return ValidateEndpointURL(fl.Field().String()) == nil
		})
		validate = vd
	})
	return validate
}

// Validate checks every field constraint and returns the first
// violation wrapped in ErrInvalid.
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	fe := verrs[0]
	// An endpoint violation reruns the URL check so the message names
	// the actual defect, not just the tag.
	if fe.Tag() == "endpoint" {
		raw, _ := fe.Value().(string)
		return fmt.Errorf("%w: %s: %v", ErrInvalid, fieldPath(fe), ValidateEndpointURL(raw))
	}
	return fmt.Errorf("%w: %s fails %q (value %v)",
		ErrInvalid, fieldPath(fe), fe.Tag(), fe.Value())
}

// ValidateEndpointURL checks that raw is a usable http(s) endpoint:
// scheme http or https, a non-empty host without spaces, and no empty
// path segments ("//").
func ValidateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q (want http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	if strings.ContainsAny(u.Host, " \t") {
		return fmt.Errorf("host %q contains whitespace", u.Host)
	}
	if strings.Contains(u.Path, "//") {
		return fmt.Errorf("path %q contains an empty segment", u.Path)
	}
	return nil
}

// fieldPath strips the leading struct name from the validator
// namespace so messages read "Cache.Port" rather than "Config.Cache.Port".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
