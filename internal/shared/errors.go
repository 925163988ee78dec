package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Routing errors
	ErrModuleNotAvailable    = fmt.Errorf("no active module available for operation")
	ErrModuleNotFound        = fmt.Errorf("module not registered")
	ErrOperationNotSupported = fmt.Errorf("operation not supported by module")
	ErrModuleOperation       = fmt.Errorf("all capable modules failed")

	// Download lifecycle errors
	ErrInvalidTransition = fmt.Errorf("illegal download state transition")
	ErrRetryExhausted    = fmt.Errorf("download retry limit reached")
	ErrDownloadNotFound  = fmt.Errorf("download not found")

	// Transfer layer errors
	ErrCircuitOpen    = fmt.Errorf("circuit breaker open")
	ErrTransferFailed = fmt.Errorf("transfer failed")
	ErrTimeout        = fmt.Errorf("operation timed out")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
