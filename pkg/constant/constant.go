package constants

// gin context keys
const (
	UserField = "user_id"
	RoleField = "role"
)

// APP_ENV values; each selects a .env.<name> file
const (
	ENV_DEVELOPMENT = "development"
	ENV_TEST        = "test"
	ENV_PRODUCTION  = "production"
)

// Request headers
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderAuthorization  = "Authorization"
)
