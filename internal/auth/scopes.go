package auth

const (
	ScopeOpenID       = "openid"
	ScopeProfile      = "profile"
	ScopeEmail        = "email"
	ScopeGateValidate = "gate:validate"
	ScopeGateRead     = "gate:read"
	ScopeGateAdmin    = "gate:admin"
)

// AllScopes defines the full set of scopes used by the Swagger UI
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeGateValidate,
	ScopeGateRead,
	ScopeGateAdmin,
}
