// Package errors provides standardized error handling for mqtt2prom.
//
// # Classification
//
// Every error that crosses a package boundary is classified into one of three classes:
//
//   - Transient: transport timeouts, lost connections, cancelled contexts (retry recommended)
//   - Invalid: bad configuration, uncompilable templates or patterns, metric registration
//     and label-set mismatches (do not retry, log and move on)
//   - Fatal: missing configuration, failure to bind the scrape endpoint (stop the process)
//
// The rewrite engine never returns fatal errors: a bad rule or message is logged and the
// dispatcher continues with the next one.
//
// # Wrapping Pattern
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// via the classification-aware wrappers:
//
//	errors.WrapTransient(err, "MQTTInput", "Start", "connect to broker")
//	errors.WrapInvalid(err, "GaugeCache", "Record", "set gauge")
//	errors.WrapFatal(err, "Server", "Start", "listen")
//
// Wrapped errors support errors.Is and errors.As from the standard library:
//
//	if errors.Is(err, errors.ErrInvalidConfig) {
//	    // configuration problem
//	}
//
//	var ce *errors.ClassifiedError
//	if errors.As(err, &ce) {
//	    slog.Error("operation failed", "component", ce.Component, "class", ce.Class)
//	}
package errors
