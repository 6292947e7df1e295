package flows

import "context"

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	SignOut     func(context.Context) error
	RemoveToken func(context.Context) error
	Warn        func(op string, err error)
}

// LogoutResult reports the best-effort parts of a logout. Logout itself
// cannot fail.
type LogoutResult struct {
	RemoteErr error
	RemoveErr error
}

// RunLogout signs out remotely, then removes the persisted token. The token
// is removed even when sign-out failed, so a network partition cannot leave
// a restorable session behind.
func RunLogout(ctx context.Context, deps LogoutDeps) LogoutResult {
	var res LogoutResult
	if err := deps.SignOut(ctx); err != nil {
		res.RemoteErr = err
		warn(deps.Warn, "logout.sign_out", err)
	}
	if err := deps.RemoveToken(ctx); err != nil {
		res.RemoveErr = err
		warn(deps.Warn, "logout.remove_token", err)
	}
	return res
}
