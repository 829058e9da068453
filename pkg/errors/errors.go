package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"

	// Supervision errors

	// ErrorTypeConfig is a bad or missing unit definition, fatal at load
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeCycle is an unsatisfiable dependency ordering, fatal at load
	ErrorTypeCycle ErrorType = "cycle"
	// ErrorTypeSpawn is a process that could not be launched
	ErrorTypeSpawn ErrorType = "spawn"
	// ErrorTypeRuntimeExit is a process exit observed by a unit supervisor
	ErrorTypeRuntimeExit ErrorType = "runtime_exit"
	// ErrorTypeRateLimit is a restart denied by the restart-rate limiter
	ErrorTypeRateLimit ErrorType = "rate_limit"
)

const (
	contextKeyExitCode = "exit_code"
	contextKeyCycle    = "cycle"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func NewConfigError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfig, message, cause)
}

// NewCycleError names the cycle, first node repeated at the end: a -> b -> a
func NewCycleError(cycle []string) *DomainError {
	path := make([]string, len(cycle))
	copy(path, cycle)
	return NewDomainError(ErrorTypeCycle, "dependency cycle: "+strings.Join(path, " -> "), nil).
		WithContext(contextKeyCycle, path)
}

func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

// NewRuntimeExitError records an observed process exit and its status
func NewRuntimeExitError(exitCode int, cause error) *DomainError {
	return NewDomainError(ErrorTypeRuntimeExit, fmt.Sprintf("process exited with status %d", exitCode), cause).
		WithContext(contextKeyExitCode, exitCode)
}

func NewRateLimitError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeRateLimit, message, cause)
}

// isType walks the whole chain, so a config error wrapped in a
// validation error is still reported as a config error.
func isType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, &DomainError{Type: errorType})
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

func IsProcessError(err error) bool {
	return isType(err, ErrorTypeProcess)
}

func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

func IsPermissionError(err error) bool {
	return isType(err, ErrorTypePermission)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsNetworkError(err error) bool {
	return isType(err, ErrorTypeNetwork)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}

func IsConfigError(err error) bool {
	return isType(err, ErrorTypeConfig)
}

func IsCycleError(err error) bool {
	return isType(err, ErrorTypeCycle)
}

func IsSpawnError(err error) bool {
	return isType(err, ErrorTypeSpawn)
}

func IsRuntimeExitError(err error) bool {
	return isType(err, ErrorTypeRuntimeExit)
}

func IsRateLimitError(err error) bool {
	return isType(err, ErrorTypeRateLimit)
}

// ExitCode extracts the exit status carried by a runtime exit error
func ExitCode(err error) (int, bool) {
	domainErr := findType(err, ErrorTypeRuntimeExit)
	if domainErr == nil {
		return 0, false
	}
	code, ok := domainErr.Context[contextKeyExitCode].(int)
	return code, ok
}

// Cycle extracts the unit names forming a dependency cycle
func Cycle(err error) ([]string, bool) {
	domainErr := findType(err, ErrorTypeCycle)
	if domainErr == nil {
		return nil, false
	}
	cycle, ok := domainErr.Context[contextKeyCycle].([]string)
	return cycle, ok
}

func findType(err error, errorType ErrorType) *DomainError {
	for err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			return nil
		}
		if domainErr.Type == errorType {
			return domainErr
		}
		err = domainErr.Cause
	}
	return nil
}

// ErrorCollection gathers independent failures, such as one per unit.
// errors.Is and errors.As see every member.
type ErrorCollection struct {
	Errors []error
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{}
}

func (e *ErrorCollection) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	}
	messages := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		messages[i] = err.Error()
	}
	return fmt.Sprintf("%d errors occurred: %s", len(e.Errors), strings.Join(messages, "; "))
}

func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

// Add ignores nil
func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

// ToError returns nil for an empty collection, so callers can return it directly
func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}
