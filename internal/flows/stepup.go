package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
)

// StepUpErrors carries host-level sentinels used by second-factor flows.
type StepUpErrors struct {
	InvalidCode error
	NotEnrolled error
	Unavailable error
}

// StepUpDeps captures the second-factor collaborators.
type StepUpDeps struct {
	Errors StepUpErrors

	MFA     provider.MFA
	Refresh func(context.Context) (*session.Session, error)
	Warn    func(op string, err error)
}

// StepUpResult carries the upgraded session and the factor used.
type StepUpResult struct {
	Session  *session.Session
	FactorID string
}

// RunStepUp verifies code against the first verified TOTP factor and
// returns the session carrying the raised assurance level.
func RunStepUp(ctx context.Context, code string, deps StepUpDeps) (StepUpResult, error) {
	if !ValidCode(code) {
		return StepUpResult{}, deps.Errors.InvalidCode
	}

	factors, err := deps.MFA.ListFactors(ctx)
	if err != nil {
		return StepUpResult{}, mapMFAError(err, deps.Errors)
	}
	factor, ok := FirstVerifiedTOTP(factors)
	if !ok {
		return StepUpResult{}, deps.Errors.NotEnrolled
	}

	verified, err := verifyFactor(ctx, factor.ID, code, deps)
	if err != nil {
		return StepUpResult{}, err
	}

	// Refresh so the held session reflects the new level; the verified
	// session stands if that fails.
	res := StepUpResult{Session: verified, FactorID: factor.ID}
	if deps.Refresh != nil {
		refreshed, rerr := deps.Refresh(ctx)
		switch {
		case rerr != nil:
			warn(deps.Warn, "stepup.refresh", rerr)
		case refreshed != nil:
			res.Session = refreshed
		}
	}
	return res, nil
}

// RunConfirmEnrollment verifies the first code of a freshly enrolled factor.
func RunConfirmEnrollment(ctx context.Context, factorID, code string, deps StepUpDeps) (StepUpResult, error) {
	if !ValidCode(code) {
		return StepUpResult{}, deps.Errors.InvalidCode
	}
	verified, err := verifyFactor(ctx, factorID, code, deps)
	if err != nil {
		return StepUpResult{}, err
	}
	return StepUpResult{Session: verified, FactorID: factorID}, nil
}

func verifyFactor(ctx context.Context, factorID, code string, deps StepUpDeps) (*session.Session, error) {
	challenge, err := deps.MFA.Challenge(ctx, factorID)
	if err != nil {
		return nil, mapMFAError(err, deps.Errors)
	}
	sess, err := deps.MFA.Verify(ctx, factorID, challenge.ID, code)
	if err != nil {
		return nil, mapMFAError(err, deps.Errors)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: verify returned no session", deps.Errors.Unavailable)
	}
	return sess, nil
}

// FirstVerifiedTOTP returns the first verified TOTP factor in list order.
func FirstVerifiedTOTP(factors []provider.Factor) (provider.Factor, bool) {
	for _, f := range factors {
		if f.Type == provider.FactorTOTP && f.Status == provider.FactorVerified {
			return f, true
		}
	}
	return provider.Factor{}, false
}

func mapMFAError(err error, errs StepUpErrors) error {
	switch {
	case errors.Is(err, provider.ErrInvalidCode), errors.Is(err, provider.ErrChallengeInvalid):
		return fmt.Errorf("%w: %v", errs.InvalidCode, err)
	case errors.Is(err, provider.ErrFactorNotFound):
		return fmt.Errorf("%w: %v", errs.NotEnrolled, err)
	}
	return fmt.Errorf("%w: %v", errs.Unavailable, err)
}
