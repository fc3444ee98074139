package errors

// Convenience functions for common error patterns

// Config errors

func ConfigNotFound(path string) *TrackerError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *TrackerError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *TrackerError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Tracking errors

// PermissionDenied is fatal to tracking start and is never retried automatically.
func PermissionDenied(resource string) *TrackerError {
	return New(CategoryPermission, SeverityFatal, "permission denied").
		WithContext("resource", resource)
}

func ProducerStartError(producer string, cause error) *TrackerError {
	return WrapRetryable(cause, CategoryProducer, SeverityWarning, "fix producer failed to start").
		WithContext("producer", producer)
}

func ProducerExhausted(producer string, attempts int, cause error) *TrackerError {
	return Wrap(cause, CategoryProducer, SeverityError, "fix producer start retries exhausted").
		WithContext("producer", producer).
		WithContext("attempts", attempts)
}

func LifecycleBusy(from, to string) *TrackerError {
	return New(CategoryLifecycle, SeverityInfo, "lifecycle transition already in progress").
		WithContext("from", from).
		WithContext("to", to)
}

// Remote service errors

func EntryRecordError(fenceID int, cause error) *TrackerError {
	return WrapRetryable(cause, CategoryRemote, SeverityWarning, "geofence entry recording failed").
		WithContext("fence_id", fenceID)
}

func NetworkTimeout(url string, cause error) *TrackerError {
	return WrapRetryable(cause, CategoryNetwork, SeverityWarning, "network timeout").
		WithContext("url", url)
}

// Store errors

func StoreError(operation string, cause error) *TrackerError {
	return Wrap(cause, CategoryStore, SeverityError, "state store operation failed").
		WithContext("operation", operation)
}

// Internal errors

func InternalError(message string, cause error) *TrackerError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
