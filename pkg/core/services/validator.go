package services

import (
	"regexp"
	"unicode/utf8"
)

// CodeValidator checks length bounds and an allowed-character pattern.
// It is safe for concurrent use.
type CodeValidator struct {
	minLength int
	maxLength int
	pattern   *regexp.Regexp
}

// NewCodeValidator compiles pattern and returns a validator for codes in [minLength, maxLength]
func NewCodeValidator(minLength, maxLength int, pattern string) (*CodeValidator, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &CodeValidator{minLength: minLength, maxLength: maxLength, pattern: re}, nil
}

func (v *CodeValidator) IsValid(code string) bool {
	n := utf8.RuneCountInString(code)
	if n < v.minLength || n > v.maxLength {
		return false
	}
	return v.pattern.MatchString(code)
}
