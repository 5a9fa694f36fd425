package api

// Error mapping is done inline in handlers.
// Auth errors mapped in auth package interceptor.
// Undecodable documents and oversized batches map to INVALID_ARGUMENT.
// Database errors on the header or mutations map to UNAVAILABLE; on a
// single event they only mark that event's result.
