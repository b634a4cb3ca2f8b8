package fel

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AssemblyError indica entrada inválida al ensamblar el DTE. No se reintenta:
// el flujo de facturación debe corregir la factura.
type AssemblyError struct {
	Err error
}

func (e *AssemblyError) Error() string { return "fel: ensamblado de DTE: " + e.Err.Error() }
func (e *AssemblyError) Unwrap() error { return e.Err }

// AuthenticationError indica credenciales rechazadas por el certificador.
// Escala de inmediato a severidad critical; no se reintenta sin intervención.
type AuthenticationError struct {
	Code    string
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("fel: autenticación rechazada por el certificador [%s]: %s", e.Code, e.Message)
}

// NetworkError indica falla de transporte o timeout al llamar al certificador.
// Transitoria: se reintenta con backoff.
type NetworkError struct {
	Op      string // certify, query_status, cancel, authenticate
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	kind := "red"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("fel: %s en %s: %v", kind, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// wrapTransport clasifica un error de http.Client.Do como NetworkError,
// marcando Timeout si venció el deadline del contexto o del socket.
func wrapTransport(op string, ctx context.Context, err error) *NetworkError {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &NetworkError{Op: op, Timeout: timeout, Err: err}
}

// IsTransient indica si el error amerita reintento con backoff
// (red o timeout; nunca autenticación ni ensamblado).
func IsTransient(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsTimeout indica si el error fue por deadline vencido.
func IsTimeout(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Timeout
}

// IsAuthFailure indica si el certificador rechazó las credenciales.
func IsAuthFailure(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
