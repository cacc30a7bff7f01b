package safe

import (
	"fmt"
	"reflect"

	"talkify/logger"
	"talkify/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required dependencies during construction.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Recover turns a panic into an error and logs it; use as `defer safe.Recover(name, &err)`.
func Recover(name string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	err := errs.ErrPanic(r)
	logger.Error("panic recovered", zap.String("where", name), zap.Error(err))
	if errp != nil {
		*errp = err
	}
}

// SafeGo starts a new goroutine that recovers from panic,
// so that one connection's failure never crashes the process.
func SafeGo(name string, f func()) {
	go func() {
		defer Recover(name, nil)
		f()
	}()
}

// Call runs f on the current goroutine and converts a panic into an error.
func Call(name string, f func() error) (err error) {
	defer Recover(name, &err)
	return f()
}
