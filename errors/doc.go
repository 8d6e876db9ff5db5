// Package errors provides the error classification and wrapping conventions used by
// mamastreams.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid (bad input or
// configuration, do not retry) and Fatal (the object can no longer be used). Lookups in the
// field caches never produce errors; they return nil or false. Errors are reserved for API
// misuse, configuration problems and transport failures.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers set the classification:
//
//	errors.WrapTransient(err, "Subscription", "requestInitial", "initial request")
//	errors.WrapInvalid(err, "Pool", "CreateSubscriptionFromURI", "parse uri")
//	errors.WrapFatal(err, "Pool", "Destroy", "close runtime")
//
// Wrap keeps whatever classification the wrapped error already carries.
//
// # Standard Error Variables
//
//   - Arguments: ErrNullArg, ErrInvalidArg
//   - Lookups and types: ErrNotFound, ErrUnsupportedType, ErrTypeMismatch, ErrFieldNotFound, ErrNoFieldName
//   - Configuration: ErrInvalidConfig, ErrMissingConfig
//   - Lifecycle: ErrAlreadyDestroyed, ErrNotOpen, ErrNoBridge
//   - Connection: ErrConnectionTimeout, ErrConnectionLost, ErrSubscriptionFailed, ErrRequestTimeout
//
// Configuration errors carry the missing key in their message:
//
//	err := fmt.Errorf("%w: mama.resource_pool.%s.default_transport_sub", errors.ErrMissingConfig, pool)
//	return errors.WrapInvalid(err, "Pool", "CreateSubscriptionFromTopicWithSource", "resolve transport")
//
// # Integration with errors.As/Is
//
// Classification survives wrapping:
//
//	wrapped := errors.Wrap(errors.ErrConnectionTimeout, "Transport", "Subscribe", "dial")
//	errors.IsTransient(wrapped) // true
package errors
