package httpserver

const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingID        = "missing id"
	ErrBadID            = "invalid id"
	ErrMissingNumero    = "numero is required"
	ErrDependency       = "dependency error"
	ErrNotFound         = "not found"
	ErrNoQR             = "no qr code available"
	ErrSendFailed       = "send failed"
	ErrInvalidSignature = "invalid signature"
	ErrUnauthorized     = "invalid api key"
	ErrAPIKeyUnset      = "api key not configured"
	ErrMissingAck       = "ack is required"
)
