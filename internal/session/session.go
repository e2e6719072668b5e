package session

import "tradax/internal/clients/auth"

// State is the lifecycle position of the session.
type State int

const (
	StateLoading State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Session is a point-in-time copy of the manager's state. Epoch identifies the
// authenticated session: any cached data tagged with an older epoch is stale.
type Session struct {
	State           State
	IsAuthenticated bool
	IsLoading       bool
	User            *auth.UserProfile
	Epoch           uint64
}

func (s Session) clone() Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// RegisterResult reports how a registration ended.
type RegisterResult struct {
	Session Session
	// PendingVerification means the account exists but needs its OTP before login.
	PendingVerification bool
	Email               string
	Message             string
}

// Transition labels for metrics and logs.
const (
	transitionInitAuthenticated = "init_authenticated"
	transitionInitAnonymous     = "init_anonymous"
	transitionLogin             = "login"
	transitionLogout            = "logout"
	transitionRefresh           = "refresh"
)
