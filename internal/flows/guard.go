package flows

// DecisionKind is the result of evaluating one navigation.
type DecisionKind uint8

const (
	// DecisionLoading means auth state is unresolved; show a spinner.
	DecisionLoading DecisionKind = iota
	// DecisionRedirectLogin sends the user to the login screen.
	DecisionRedirectLogin
	// DecisionRedirectMFA sends the user to second-factor verification.
	DecisionRedirectMFA
	// DecisionRedirectHome sends the user to the default route.
	DecisionRedirectHome
	// DecisionRender allows the route.
	DecisionRender
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionLoading:
		return "loading"
	case DecisionRedirectLogin:
		return "redirect_login"
	case DecisionRedirectMFA:
		return "redirect_mfa"
	case DecisionRedirectHome:
		return "redirect_home"
	case DecisionRender:
		return "render"
	}
	return "unknown"
}

// Decision is the guard outcome for one path. ReturnTo is set only for
// unauthenticated redirects; a deactivated account gets none.
type Decision struct {
	Kind     DecisionKind
	Target   string
	ReturnTo string
}

// Redirect reports whether the decision navigates elsewhere.
func (d Decision) Redirect() bool {
	return d.Kind != DecisionLoading && d.Kind != DecisionRender
}

// GuardInput is everything the guard needs. StepUpRequired and Allowed are
// only invoked when evaluation reaches their stage.
type GuardInput struct {
	Path          string
	Loading       bool
	Authenticated bool
	Deactivated   bool

	LoginPath string
	MFAPath   string
	HomePath  string

	StepUpRequired func() bool
	Allowed        func() bool
}

// Decide evaluates the guard stages in order: loading, unauthenticated,
// deactivated, step-up, role. The first failing stage decides.
func Decide(in GuardInput) Decision {
	if in.Loading {
		return Decision{Kind: DecisionLoading}
	}
	if !in.Authenticated && !in.Deactivated {
		return Decision{Kind: DecisionRedirectLogin, Target: in.LoginPath, ReturnTo: in.Path}
	}
	if in.Deactivated {
		return Decision{Kind: DecisionRedirectLogin, Target: in.LoginPath}
	}
	if in.StepUpRequired != nil && in.StepUpRequired() {
		if in.Path == in.MFAPath {
			return Decision{Kind: DecisionRender}
		}
		return Decision{Kind: DecisionRedirectMFA, Target: in.MFAPath}
	}
	if in.Allowed == nil || !in.Allowed() {
		return Decision{Kind: DecisionRedirectHome, Target: in.HomePath}
	}
	return Decision{Kind: DecisionRender}
}
