// Package check contains small assertions that return errors instead of failing, meant to
// be collected by Validatable implementations.
package check

import (
	"reflect"

	"github.com/pkg/errors"
)

func check(condition bool, msgAndArgs []interface{}, defaultMsg string, args ...interface{}) error {
	if condition {
		return nil
	}
	err := errors.Errorf(defaultMsg, args...)
	if msg := messageFromMsgAndArgs(true, msgAndArgs...); msg != "" {
		return errors.Wrap(err, msg)
	}
	return err
}

// True checks whether the condition is true.
func True(condition bool, msgAndArgs ...interface{}) error {
	return check(condition, msgAndArgs, "expected true, got false")
}

// NotEmpty checks whether the value is not the zero value of its type. Nil pointers, empty
// strings, and empty slices and maps count as empty.
func NotEmpty(actual interface{}, msgAndArgs ...interface{}) error {
	return check(!isEmpty(actual), msgAndArgs, "value is empty")
}

// GreaterThanOrEqualTo checks whether actual >= expected.
func GreaterThanOrEqualTo(actual, expected int, msgAndArgs ...interface{}) error {
	return check(actual >= expected, msgAndArgs, "%d is less than %d", actual, expected)
}

func isEmpty(val interface{}) bool {
	if isInterfaceNil(val) {
		return true
	}
	v := reflect.ValueOf(val)
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array:
		return v.Len() == 0
	case reflect.Ptr:
		return isEmpty(v.Elem().Interface())
	default:
		return v.IsZero()
	}
}
