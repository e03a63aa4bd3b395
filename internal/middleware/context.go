package middleware

import "context"

type contextKey string

const (
	UserIDKey  contextKey = "user_id"
	TokenIDKey contextKey = "token_id"
)

// GetUserID returns the authenticated user's id from the context
// (set by Auth).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetTokenID returns the jti of the session token that authenticated
// this request. Logout revokes it.
func GetTokenID(ctx context.Context) string {
	v, _ := ctx.Value(TokenIDKey).(string)
	return v
}
