package common

import (
	"fmt"
	"strings"

	"gpudbg/internal/gpu"
)

// Error represents the library error object.
type Error struct {
	Code    gpu.Err
	Sev     gpu.ErrSeverity
	Addr    gpu.Addr
	HasAddr bool
	VMID    gpu.VMID
	HasVMID bool
	Message string
}

func NewError(sev gpu.ErrSeverity, code gpu.Err) *Error {
	return &Error{Code: code, Sev: sev}
}

func NewErrorMsg(sev gpu.ErrSeverity, code gpu.Err, msg string) *Error {
	return &Error{Code: code, Sev: sev, Message: msg}
}

func NewErrorf(sev gpu.ErrSeverity, code gpu.Err, format string, args ...any) *Error {
	return &Error{Code: code, Sev: sev, Message: fmt.Sprintf(format, args...)}
}

func NewErrorWithAddr(sev gpu.ErrSeverity, code gpu.Err, vmid gpu.VMID, addr gpu.Addr, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Addr:    addr,
		HasAddr: true,
		VMID:    vmid,
		HasVMID: true,
		Message: msg,
	}
}

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrMalformedPacket       = NewError(gpu.ErrSevWarn, gpu.ErrMalformedPacket)
	ErrTruncatedStream       = NewError(gpu.ErrSevError, gpu.ErrTruncatedStream)
	ErrUnmappedAddress       = NewError(gpu.ErrSevError, gpu.ErrUnmappedAddress)
	ErrUnsupportedGeneration = NewError(gpu.ErrSevError, gpu.ErrUnsupportedGeneration)
	ErrWalkBound             = NewError(gpu.ErrSevError, gpu.ErrWalkBound)
	ErrPortAccess            = NewError(gpu.ErrSevError, gpu.ErrPortAccess)
	ErrBadConfig             = NewError(gpu.ErrSevError, gpu.ErrBadConfig)
	ErrUnknownRegister       = NewError(gpu.ErrSevError, gpu.ErrUnknownRegister)
	ErrCaptureParse          = NewError(gpu.ErrSevError, gpu.ErrCaptureParse)
)

// Is reports a match when target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	switch e.Sev {
	case gpu.ErrSevError:
		sb.WriteString("ERROR:")
	case gpu.ErrSevWarn:
		sb.WriteString("WARN :")
	case gpu.ErrSevInfo:
		sb.WriteString("INFO :")
	default:
		return "LIBRARY INTERNAL ERROR: Invalid Error Object"
	}

	sb.WriteString(fmt.Sprintf("0x%04x ", e.Code))

	if desc, ok := errorCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("(%s) [%s]; ", desc.name, desc.msg))
	} else {
		sb.WriteString("(unknown); ")
	}

	if e.HasVMID {
		sb.WriteString(fmt.Sprintf("VMID=%d; ", e.VMID))
	}
	if e.HasAddr {
		sb.WriteString(fmt.Sprintf("Addr=0x%x; ", uint64(e.Addr)))
	}

	sb.WriteString(e.Message)
	return sb.String()
}

// CodeOf returns the library code carried by err, or ErrFail for foreign errors.
func CodeOf(err error) gpu.Err {
	if err == nil {
		return gpu.OK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return gpu.ErrFail
}

// CodeName returns the short name of a library code.
func CodeName(code gpu.Err) string {
	if desc, ok := errorCodeDesc[code]; ok {
		return desc.name
	}
	return fmt.Sprintf("ERR_0x%04x", uint32(code))
}

type errDesc struct {
	name string
	msg  string
}

var errorCodeDesc = map[gpu.Err]errDesc{
	gpu.OK:                       {"OK", "No Error."},
	gpu.ErrFail:                  {"ERR_FAIL", "General failure."},
	gpu.ErrMalformedPacket:       {"ERR_MALFORMED_PACKET", "Malformed packet header or body; packet skipped."},
	gpu.ErrTruncatedStream:       {"ERR_TRUNCATED_STREAM", "Packet body runs past the end of the buffer."},
	gpu.ErrUnmappedAddress:       {"ERR_UNMAPPED_ADDRESS", "No valid mapping for the virtual address."},
	gpu.ErrUnsupportedGeneration: {"ERR_UNSUPPORTED_GENERATION", "No page table layout known for this IP version."},
	gpu.ErrWalkBound:             {"ERR_WALK_BOUND", "Page table walk exceeded its level bound."},
	gpu.ErrPortAccess:            {"ERR_PORT_ACCESS", "Access port read or write failed."},
	gpu.ErrBadConfig:             {"ERR_BAD_CONFIG", "Invalid configuration value."},
	gpu.ErrUnknownRegister:       {"ERR_UNKNOWN_REGISTER", "Register not present in the register table."},
	gpu.ErrCaptureParse:          {"ERR_CAPTURE_PARSE", "Capture directory parse error."},
	gpu.ErrLast:                  {"ERR_LAST", "No error - error code end marker"},
}
