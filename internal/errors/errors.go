package errors

import (
	"fmt"
	"os"
	"sync"
)

var (
	defaultHandler *ErrorHandler
	once           sync.Once
	handlerErr     error
)

func GetDefaultHandler() (*ErrorHandler, error) {
	once.Do(func() {
		defaultHandler, handlerErr = NewErrorHandler()
	})
	return defaultHandler, handlerErr
}

// HandleError reports err through the default handler. If the tool log
// cannot be opened the error is still printed.
func HandleError(err error) {
	handler, hErr := GetDefaultHandler()
	if hErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	handler.Handle(err)
}

// RecordError writes err to the tool log of the default handler without
// printing it.
func RecordError(err error) {
	handler, hErr := GetDefaultHandler()
	if hErr != nil {
		return
	}
	handler.Record(err)
}

// resetDefaultHandler resets the singleton for testing purposes
func resetDefaultHandler() {
	defaultHandler = nil
	handlerErr = nil
	once = sync.Once{}
}
