package parser

import "fmt"

// ParseError reports a document that could not be read or walked.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Errorf("parse %s: %w", e.URL, e.Err).Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func recovered(url string, r any) *ParseError {
	if err, ok := r.(error); ok {
		return &ParseError{URL: url, Err: fmt.Errorf("panic: %w", err)}
	}
	return &ParseError{URL: url, Err: fmt.Errorf("panic: %v", r)}
}
