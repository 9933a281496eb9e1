package api

import (
	"errors"
	"fmt"

	"github.com/scrip-ledger/scrip/pkg/cvm"
	"github.com/scrip-ledger/scrip/pkg/ledger"
	"github.com/scrip-ledger/scrip/pkg/ledger/audit"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Scrip-specific error codes.
const (
	// EconomicFault indicates the operation violated an economic rule
	// (insufficient funds, allowance, stake, and so on).
	EconomicFault = -32001

	// ContractFault indicates the invoked contract faulted or exceeded its
	// cost budget.
	ContractFault = -32002

	// ContractReverted indicates the invoked contract deliberately canceled.
	ContractReverted = -32003

	// NotFound indicates the referenced row does not exist.
	NotFound = -32004

	// Unauthorized indicates a missing or unknown API key.
	Unauthorized = -32005
)

// Common error values.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams  = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError  = NewRPCError(InternalError, "Internal error")
	ErrUnauthorized   = NewRPCError(Unauthorized, "Unknown API key")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// domainError maps an engine error onto its RPC error.
func domainError(err error) *RPCError {
	var cancel *cvm.CancelError
	var fault *cvm.Fault
	switch {
	case err == nil:
		return nil
	case errors.As(err, &cancel):
		return NewRPCError(ContractReverted, cancel.Error())
	case errors.As(err, &fault):
		return NewRPCError(ContractFault, fault.Error())
	case errors.Is(err, cvm.ErrBudgetExceeded):
		return NewRPCError(ContractFault, err.Error())
	case errors.Is(err, ledger.ErrUnknownCurrency),
		errors.Is(err, ledger.ErrUnknownTransfer),
		errors.Is(err, ledger.ErrUnknownClaim),
		errors.Is(err, ledger.ErrUnknownPool),
		errors.Is(err, ledger.ErrNoContract),
		errors.Is(err, audit.ErrUnknownExecution):
		return NewRPCError(NotFound, err.Error())
	case errors.Is(err, store.ErrStore), errors.Is(err, audit.ErrJournal):
		return NewRPCError(InternalError, "storage fault")
	default:
		return NewRPCError(EconomicFault, err.Error())
	}
}
