package log

// Common field names for structured logging
const (
	FieldComponent      = "component"
	FieldRequestID      = "request_id"
	FieldClientIP       = "client_ip"
	FieldMethod         = "method"
	FieldPath           = "path"
	FieldQuery          = "query"
	FieldStatusCode     = "status_code"
	FieldDuration       = "duration_ms"
	FieldUserAgent      = "user_agent"
	FieldSuccess        = "success"
	FieldError          = "error"
	FieldErrorCode      = "error_code"
	FieldOperation      = "operation"
	FieldUserID         = "user_id"
	FieldItemID         = "item_id"
	FieldExternalItemID = "external_item_id"
	FieldInstitution    = "institution"
	FieldAdded          = "added"
	FieldModified       = "modified"
	FieldRemoved        = "removed"
	FieldPages          = "pages"
	FieldRecurringID    = "recurring_id"
	FieldDueDate        = "due_date"
	FieldProcessed      = "processed"
	FieldGenerated      = "generated"
	FieldWebhookType    = "webhook_type"
	FieldWebhookCode    = "webhook_code"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentSync       = "sync"
	ComponentRecurring  = "recurring"
	ComponentAccounts   = "accounts"
	ComponentAggregator = "aggregator"
	ComponentWebhook    = "webhook"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentSecurity   = "security"
	ComponentRateLimit  = "rate_limit"
	ComponentBackend    = "backend"
)

// Operations defines standard operation names
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpList       = "list"
	OpSync       = "sync"
	OpProcess    = "process"
	OpLink       = "link"
	OpExchange   = "exchange"
	OpDisconnect = "disconnect"
	OpPublish    = "publish"
	OpConsume    = "consume"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation = "validation_error"
	ErrorTypeUpstream   = "upstream_error"
	ErrorTypeDatabase   = "database_error"
	ErrorTypeNotFound   = "not_found_error"
	ErrorTypeInternal   = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithItem adds linked item identifiers; never pass the access token here.
func (f LogFields) WithItem(itemID, institution string) LogFields {
	f[FieldItemID] = itemID
	if institution != "" {
		f[FieldInstitution] = institution
	}
	return f
}

// WithSyncCounts adds the counters of one sync pass
func (f LogFields) WithSyncCounts(added, modified, removed int) LogFields {
	f[FieldAdded] = added
	f[FieldModified] = modified
	f[FieldRemoved] = removed
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
