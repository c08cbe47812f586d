// Package options defines the option set contract shared by every config
// section and helpers to complete and validate a list of sections.
package options

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// Join concatenates flag prefixes with "." and appends a trailing "." when
// the result is non-empty, so Join("rag") + "top-k" is "rag.top-k".
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// IOptions is a config section that registers flags and validates itself.
type IOptions interface {
	// Validate returns every problem found, nil when the section is usable.
	Validate() []error

	// AddFlags registers the section flags, each name starting with Join(prefixes...).
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// Completer is implemented by sections that fill derived defaults before validation.
type Completer interface {
	Complete() error
}

// Section names a config section for error messages.
type Section struct {
	Name    string
	Options IOptions
}

// CompleteAll completes every section that implements Completer and stops at
// the first failure.
func CompleteAll(sections ...Section) error {
	for _, s := range sections {
		c, ok := s.Options.(Completer)
		if !ok {
			continue
		}
		if err := c.Complete(); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return nil
}

// ValidateAll validates every section and collects all errors.
func ValidateAll(sections ...Section) []error {
	var errs []error
	for _, s := range sections {
		errs = append(errs, s.Options.Validate()...)
	}
	return errs
}
