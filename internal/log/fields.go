package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldAccountID     = "account_id"
	FieldTransactionID = "transaction_id"
	FieldCorrelator    = "correlator"
	FieldAmountUnits   = "amount_units"
	FieldCurrency      = "currency"
	FieldCategory      = "category"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentLedger     = "ledger"
	ComponentTransfer   = "transfer"
	ComponentAllocation = "allocation"
	ComponentDPS        = "dps"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentRates      = "rates"
	ComponentCache      = "cache"
	ComponentSecurity   = "security"
	ComponentRateLimit  = "rate_limit"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpCommit   = "commit"
	OpDerive   = "derive"
	OpValidate = "validate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)
