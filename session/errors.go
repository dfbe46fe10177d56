package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind buckets a session failure for display and metrics.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorConnection
	ErrorDevice
	ErrorParse
	ErrorQuota
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorConnection:
		return "connection"
	case ErrorDevice:
		return "device"
	case ErrorParse:
		return "parse"
	case ErrorQuota:
		return "quota"
	default:
		return "unknown"
	}
}

// Error pairs a failure with its kind. The kind picks the user-facing
// message; the wrapped error keeps the detail for logs.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error"
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the text shown to the student, in their language.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case ErrorConnection:
		return "No se pudo conectar con el tutor. Revisa tu conexión e inténtalo de nuevo."
	case ErrorDevice:
		return "No se pudo acceder al micrófono. Revisa los permisos de audio."
	case ErrorParse:
		return "La respuesta del tutor llegó en un formato inesperado."
	case ErrorQuota:
		return "Se alcanzó el límite de uso de la API. Espera un momento e inténtalo otra vez."
	default:
		return "Algo salió mal. Inténtalo de nuevo."
	}
}

// quotaMarkers identify API quota exhaustion in errors coming back from
// the SDK, which reports it in several shapes.
var quotaMarkers = []string{
	"quota",
	"resource_exhausted",
	"rate limit",
	"429",
}

// classify wraps err as a session Error. Anything that looks like quota
// exhaustion wins over the fallback kind.
func classify(err error, fallback ErrorKind) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return &Error{Kind: ErrorQuota, Err: err}
		}
	}
	return &Error{Kind: fallback, Err: err}
}
