package rate

// Scope names one throttled operation and owns its key prefix.
type Scope string

const (
	ScopeCaptcha       Scope = "acg"
	ScopeLogin         Scope = "al"
	ScopeLoginIP       Scope = "ali"
	ScopePasswordReset Scope = "apr"
	ScopeVerification  Scope = "aev"
	ScopeRegisterIP    Scope = "acr"
)

func key(scope Scope, identifier string) string {
	return string(scope) + ":" + identifier
}
