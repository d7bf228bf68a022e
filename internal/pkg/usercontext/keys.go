package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyContext       = "ACCOUNT_CONTEXT"
	KeyAccountID     = "account_id"
	KeyIsAdmin       = "isAdmin"
	KeyFromProtected = "from_protected"
	KeyEntitlement   = "entitlement"
)
