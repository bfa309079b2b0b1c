package services

// Session is the authenticated operator bound to a request. It is passed
// explicitly to every mutating service method.
type Session struct {
	OperatorUUID string `json:"operator_uuid"`
	Username     string `json:"username"`
	IsAdmin      bool   `json:"is_admin"`
	TokenID      string `json:"-"`
}

// RequireAdmin is the single authorization guard for directory and custody
// mutations.
func RequireAdmin(sess *Session) error {
	if sess == nil || !sess.IsAdmin {
		return ErrUnauthorized
	}
	return nil
}
