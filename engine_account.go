package authgate

import (
	"context"
	"errors"
	"time"

	internalflows "github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/google/uuid"
)

// Register creates an unverified account and mails its verification token.
//
// The captcha is consumed first; a wrong or stale answer returns
// ErrInvalidCaptcha before the email is looked up. A taken email returns
// ErrEmailAlreadyRegistered and a short or mismatched password returns
// ErrPasswordPolicy. Mail delivery is asynchronous and its failure never
// undoes the account.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	res, err := internalflows.RunRegister(ctx, internalflows.RegisterRequest{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		CaptchaID:       req.CaptchaID,
		CaptchaAnswer:   req.CaptchaAnswer,
	}, e.registerFlowDeps())
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{
		UserID:              res.UserID,
		Email:               res.Email,
		VerificationExpires: res.VerificationExpires,
	}, nil
}

// Login verifies the captcha and credentials and issues a signed access
// token. Unknown emails and wrong passwords both return
// ErrInvalidCredentials; with Account.RequireVerifiedEmailForLogin set, an
// unverified account returns ErrEmailNotVerified.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	res, err := internalflows.RunLogin(ctx, internalflows.LoginRequest{
		Email:         req.Email,
		Password:      req.Password,
		RememberMe:    req.RememberMe,
		CaptchaID:     req.CaptchaID,
		CaptchaAnswer: req.CaptchaAnswer,
	}, e.loginFlowDeps())
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		UserID:        res.UserID,
		AccessToken:   res.AccessToken,
		ExpiresAt:     res.ExpiresAt,
		EmailVerified: res.EmailVerified,
	}, nil
}

func (e *Engine) registerFlowDeps() internalflows.RegisterDeps {
	deps := internalflows.RegisterDeps{
		ClientIPFromContext: ClientIPFromContext,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.RegisterMetrics{
			RegisterSuccess:     int(MetricRegisterSuccess),
			RegisterDuplicate:   int(MetricRegisterDuplicate),
			RegisterFailure:     int(MetricRegisterFailure),
			RegisterRateLimited: int(MetricRegisterRateLimited),
		},
		Events: internalflows.RegisterEvents{
			Register: auditEventRegister,
		},
		Errors: e.flowErrors(),
	}
	if e == nil {
		return deps
	}

	deps.MinPasswordLength = e.config.Password.MinLength
	deps.MaxPasswordLength = e.config.Password.MaxLength
	deps.CheckRegisterLimiter = func(ctx context.Context, ip string) error {
		return e.limit(ctx, rate.ScopeRegisterIP, ip, ErrRegisterRateLimited)
	}
	if e.captcha != nil {
		deps.VerifyCaptcha = e.verifyCaptcha
	}
	if e.hasher != nil {
		deps.HashPassword = e.hasher.Hash
	}
	if e.userProvider != nil {
		deps.GetUserByEmail = e.flowUserByEmail(TokenEmailVerification)
		deps.CreateAccount = e.createAccount
	}
	deps.SendVerificationMail = func(ctx context.Context, user internalflows.User, token internalflows.IssuedToken) {
		e.queueMail(ctx, MailEmailVerification, user, token)
	}
	return deps
}

func (e *Engine) createAccount(ctx context.Context, in internalflows.NewAccount) (internalflows.User, internalflows.IssuedToken, error) {
	record := UserRecord{
		UserID:       uuid.NewString(),
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: in.PasswordHash,
		Active:       true,
		CreatedAt:    e.now().UTC(),
	}
	issued, err := e.tokens.Issue(&record, TokenEmailVerification)
	if err != nil {
		return internalflows.User{}, internalflows.IssuedToken{}, err
	}

	created, err := e.userProvider.CreateUser(ctx, record)
	if err != nil {
		return internalflows.User{}, internalflows.IssuedToken{}, err
	}
	e.log(ctx).WithField("user_id", created.UserID).Info("account registered")
	return toFlowUser(created, TokenEmailVerification), toFlowIssued(issued), nil
}

func (e *Engine) loginFlowDeps() internalflows.LoginDeps {
	deps := internalflows.LoginDeps{
		ClientIPFromContext: ClientIPFromContext,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.LoginMetrics{
			LoginSuccess:     int(MetricLoginSuccess),
			LoginFailure:     int(MetricLoginFailure),
			LoginUnverified:  int(MetricLoginUnverified),
			LoginRateLimited: int(MetricLoginRateLimited),
		},
		Events: internalflows.LoginEvents{
			LoginSuccess: auditEventLoginSuccess,
			LoginFailure: auditEventLoginFailure,
		},
		Errors: e.flowErrors(),
	}
	if e == nil {
		return deps
	}

	deps.RequireVerifiedEmail = e.config.Account.RequireVerifiedEmailForLogin
	deps.CheckLoginLimiter = e.checkLoginLimiter
	deps.RecordLoginFailure = func(ctx context.Context, email, ip string) {
		// Limit hits surface on the next attempt through CheckLoginLimiter.
		_ = e.rateLimiter.Allow(ctx, rate.ScopeLogin, email)
		_ = e.rateLimiter.Allow(ctx, rate.ScopeLoginIP, ip)
	}
	deps.ResetLoginLimiter = func(ctx context.Context, email string) {
		if err := e.rateLimiter.Reset(ctx, rate.ScopeLogin, email); err != nil {
			e.log(ctx).WithError(err).Warn("login limiter reset failed")
		}
	}
	if e.captcha != nil {
		deps.VerifyCaptcha = e.verifyCaptcha
	}
	if e.hasher != nil {
		deps.VerifyPassword = e.hasher.Verify
	}
	deps.VerifyDummy = e.verifyDummy
	if e.jwtManager != nil {
		deps.IssueSession = e.issueSession
	}
	if e.userProvider != nil {
		deps.GetUserByEmail = e.flowUserByEmail(TokenEmailVerification)
		deps.RecordLogin = e.recordLogin
	}
	return deps
}

func (e *Engine) checkLoginLimiter(ctx context.Context, email, ip string) error {
	if err := e.rateLimiter.Check(ctx, rate.ScopeLogin, email); err != nil {
		return e.mapLimiterError(ctx, rate.ScopeLogin, err, ErrLoginRateLimited)
	}
	err := e.rateLimiter.Check(ctx, rate.ScopeLoginIP, ip)
	return e.mapLimiterError(ctx, rate.ScopeLoginIP, err, ErrLoginRateLimited)
}

func (e *Engine) issueSession(user internalflows.User, remember bool) (string, time.Time, error) {
	return e.jwtManager.Issue(jwt.Subject{
		UserID:        user.UserID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Remember:      remember,
	})
}

// recordLogin stamps LastLoginAt and upgrades a password hash created with
// weaker parameters. Failures are logged only.
func (e *Engine) recordLogin(ctx context.Context, user internalflows.User, plaintext string) {
	var rehash string
	if e.needsUpgrade != nil && e.hasher != nil {
		if upgrade, err := e.needsUpgrade(user.PasswordHash); err == nil && upgrade {
			if h, err := e.hasher.Hash(plaintext); err == nil {
				rehash = h
			}
		}
	}

	now := e.now().UTC()
	_, err := e.userProvider.UpdateUser(ctx, user.UserID, func(u *UserRecord) error {
		u.LastLoginAt = now
		if rehash != "" && u.PasswordHash == user.PasswordHash {
			u.PasswordHash = rehash
		}
		return nil
	})
	if err != nil {
		e.log(ctx).WithError(err).WithField("user_id", user.UserID).Warn("login bookkeeping failed")
	}
}

func (e *Engine) flowUserByEmail(kind TokenKind) func(context.Context, string) (internalflows.User, error) {
	return func(ctx context.Context, email string) (internalflows.User, error) {
		u, err := e.userProvider.GetUserByEmail(ctx, email)
		if err != nil {
			return internalflows.User{}, err
		}
		return toFlowUser(u, kind), nil
	}
}

func (e *Engine) flowUserByToken(kind TokenKind) func(context.Context, string) (internalflows.User, error) {
	return func(ctx context.Context, token string) (internalflows.User, error) {
		u, err := e.userProvider.FindUserByToken(ctx, kind, token)
		if err != nil {
			return internalflows.User{}, err
		}
		return toFlowUser(u, kind), nil
	}
}

// errTokenRejected aborts an UpdateUser mutation without persisting.
var errTokenRejected = errors.New("token rejected")

// consumeToken runs Consume inside one provider update and applies extra
// when it succeeds. A rejected token maps to ErrInvalidOrExpiredToken. A
// mismatch aborts the update; an expired slot is rejected too, but the
// update still commits so the cleared slot is stored.
func (e *Engine) consumeToken(ctx context.Context, userID string, kind TokenKind, token string, extra func(*UserRecord)) error {
	expired := false
	_, err := e.userProvider.UpdateUser(ctx, userID, func(u *UserRecord) error {
		expired = e.tokens.State(u, kind) == TokenExpired
		if !e.tokens.Consume(u, kind, token) {
			if expired {
				return nil
			}
			return errTokenRejected
		}
		expired = false
		if extra != nil {
			extra(u)
		}
		return nil
	})
	switch {
	case err == nil && expired:
		return ErrInvalidOrExpiredToken
	case err == nil:
		return nil
	case errors.Is(err, errTokenRejected), errors.Is(err, ErrProviderNotFound):
		return ErrInvalidOrExpiredToken
	default:
		return err
	}
}

// issueToken stores a fresh token of kind on userID.
func (e *Engine) issueToken(kind TokenKind) func(context.Context, string) (internalflows.IssuedToken, error) {
	return func(ctx context.Context, userID string) (internalflows.IssuedToken, error) {
		var issued IssuedToken
		_, err := e.userProvider.UpdateUser(ctx, userID, func(u *UserRecord) error {
			var err error
			issued, err = e.tokens.Issue(u, kind)
			return err
		})
		if err != nil {
			return internalflows.IssuedToken{}, err
		}
		if issued.Superseded {
			e.log(ctx).WithField("user_id", userID).WithField("token", kind.String()).Debug("pending token superseded")
		}
		return toFlowIssued(issued), nil
	}
}
