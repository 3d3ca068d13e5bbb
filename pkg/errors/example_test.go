package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/xetra/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeConnectorConstruction, "bucket is required").
		WithDetail("endpoint_url", "http://src")

	fmt.Println(err.Error())

	// Output:
	// connector_construction: bucket is required
}

// ExampleWrap shows how a stage failure keeps its original type when wrapped.
func ExampleWrap() {
	missing := errors.New(errors.ErrorTypeMissingParameter, "src_col_isin is required")
	err := errors.Wrap(missing, errors.ErrorTypeReportExecution, "report1 failed")

	fmt.Println(errors.IsType(err, errors.ErrorTypeReportExecution))
	fmt.Println(errors.IsType(err, errors.ErrorTypeMissingParameter))
	fmt.Println(errors.TypeOf(err))

	// Output:
	// true
	// true
	// report_execution
}

// ExampleIsRetryable shows which failures are worth retrying.
func ExampleIsRetryable() {
	conn := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeConnection, "read object")
	format := errors.New(errors.ErrorTypeWrongFormat, "unsupported format xlsx")

	fmt.Println(errors.IsRetryable(conn))
	fmt.Println(errors.IsRetryable(format))

	// Output:
	// true
	// false
}
