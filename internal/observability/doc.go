// Package observability provides request-scoped structured logging.
//
// Loggers returned by NewLogger read the request ID that the RequestID
// middleware stored in the context and attach it to every entry, so
// components deep in a call chain need no extra plumbing to correlate
// their output with the inbound request.
package observability
