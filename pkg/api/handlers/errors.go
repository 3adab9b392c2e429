package handlers

import "fmt"

type queryError struct {
	param string
	value string
}

func (e *queryError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.param, e.value)
}

func errInvalidQuery(param, value string) error {
	return &queryError{param: param, value: value}
}
