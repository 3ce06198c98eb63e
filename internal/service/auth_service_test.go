package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/taskapp/taskapp/internal/apperror"
	"github.com/taskapp/taskapp/internal/metrics"
	"github.com/taskapp/taskapp/internal/models"
	"github.com/taskapp/taskapp/internal/repository/memory"
)

type fakeMailer struct {
	mu     sync.Mutex
	codes  map[string]string
	resets map[string]string
	err    error
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{codes: make(map[string]string), resets: make(map[string]string)}
}

func (m *fakeMailer) SendOTP(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[to] = code
	return m.err
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[to] = token
	return m.err
}

func (m *fakeMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type authFixture struct {
	svc     *AuthService
	users   *memory.UserRepository
	admins  *memory.AdminRepository
	otps    *memory.OTPRepository
	mail    *fakeMailer
	clock   *testClock
	tokens  *JWTService
	metrics *metrics.Metrics
}

func newAuthFixture(t *testing.T, cfg AuthConfig) *authFixture {
	t.Helper()

	clock := &testClock{now: time.Now()}
	logger := newTestLogger()
	m := metrics.New(prometheus.NewRegistry())

	users := memory.NewUserRepository(clock.Now)
	admins := memory.NewAdminRepository(clock.Now)
	otpStore := memory.NewOTPRepository(clock.Now)

	otps := NewOTPService(otpStore, 60*time.Second, m, logger)
	otps.now = clock.Now

	tokens := newTestJWT(t, 24*time.Hour)
	mail := newFakeMailer()

	svc := NewAuthService(users, admins, otps, tokens, NewPasswordHasher(4), NewReferralCodes(users, ""), mail, cfg, m, logger)
	svc.now = clock.Now

	return &authFixture{
		svc:     svc,
		users:   users,
		admins:  admins,
		otps:    otpStore,
		mail:    mail,
		clock:   clock,
		tokens:  tokens,
		metrics: m,
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func registration(email string) RegistrationInput {
	return RegistrationInput{Email: email, Name: "Ann", Mobile: "5550100"}
}

func TestRequestRegistrationOTPCreatesPendingUser(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	sent, err := f.svc.RequestRegistrationOTP(ctx, registration(" Ann@Example.com "))
	if err != nil {
		t.Fatalf("RequestRegistrationOTP: %v", err)
	}
	if !sent {
		t.Fatal("expected mail to be reported as sent")
	}

	if f.otps.Len() != 1 || f.users.Count() != 1 {
		t.Fatalf("expected one OTP and one user, got %d and %d", f.otps.Len(), f.users.Count())
	}

	user, _ := f.users.GetByEmail(ctx, "ann@example.com")
	if user == nil || user.Status != models.StatusInactive || len(user.ReferralCode) != referralLength {
		t.Fatalf("unexpected pending user %+v", user)
	}
	if f.mail.code("ann@example.com") == "" {
		t.Fatal("expected code to be mailed")
	}
	if got := counterValue(t, f.metrics.OTPIssued.WithLabelValues(PurposeRegistration)); got != 1 {
		t.Fatalf("expected one issued OTP metric, got %v", got)
	}
}

func TestRequestRegistrationOTPValidation(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegistrationInput
		msg  string
	}{
		{"missing email", RegistrationInput{Name: "Ann", Mobile: "5550100"}, "Please fill your email"},
		{"bad email", RegistrationInput{Email: "not-an-email", Name: "Ann", Mobile: "5550100"}, "Please provide a valid email address"},
		{"missing name", RegistrationInput{Email: "a@example.com", Mobile: "5550100"}, "Please fill your name"},
		{"missing mobile", RegistrationInput{Email: "a@example.com", Name: "Ann"}, "Please fill your mobile"},
		{"bad mobile", RegistrationInput{Email: "a@example.com", Name: "Ann", Mobile: "abc"}, "Please provide a valid mobile"},
		{"fractional mobile", RegistrationInput{Email: "a@example.com", Name: "Ann", Mobile: "5550100.5"}, "Please provide a valid mobile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RequestRegistrationOTP(ctx, tt.in)
			if !apperror.IsKind(err, apperror.KindValidation) || apperror.PublicMessage(err) != tt.msg {
				t.Fatalf("expected validation %q, got %v", tt.msg, err)
			}
		})
	}

	if f.otps.Len() != 0 {
		t.Fatal("no OTP may be written when validation fails")
	}
}

func TestRequestRegistrationOTPTwice(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	if _, err := f.svc.RequestRegistrationOTP(ctx, registration("a@example.com")); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := f.svc.RequestRegistrationOTP(ctx, registration("a@example.com"))
	if !apperror.IsKind(err, apperror.KindOTPAlreadyRequested) {
		t.Fatalf("expected OtpAlreadyRequested, got %v", err)
	}

	f.clock.Advance(61 * time.Second)
	if _, err := f.svc.RequestRegistrationOTP(ctx, registration("a@example.com")); err != nil {
		t.Fatalf("expected a new OTP after expiry, got %v", err)
	}
	if f.users.Count() != 1 {
		t.Fatalf("expected the pending user to be reused, got %d users", f.users.Count())
	}
}

func TestRequestRegistrationOTPConcurrent(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.RequestRegistrationOTP(ctx, registration("a@example.com")); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one success, got %d", successes)
	}
	if f.otps.Len() != 1 || f.users.Count() != 1 {
		t.Fatalf("expected one OTP and one user, got %d and %d", f.otps.Len(), f.users.Count())
	}
}

func TestRequestRegistrationOTPActiveUser(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	user := &models.User{Email: "a@example.com", Status: models.StatusActive}
	if err := f.users.Create(ctx, user); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := f.svc.RequestRegistrationOTP(ctx, registration("a@example.com"))
	if !apperror.IsKind(err, apperror.KindDuplicateAccount) {
		t.Fatalf("expected DuplicateAccount, got %v", err)
	}
	if f.otps.Len() != 0 {
		t.Fatal("no OTP may be written for an active user")
	}
}

func TestRequestRegistrationOTPResolvesReferrer(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	referrer := &models.User{Email: "ref@example.com", ReferralCode: "REFCODE1", Status: models.StatusActive}
	if err := f.users.Create(ctx, referrer); err != nil {
		t.Fatalf("Create: %v", err)
	}

	in := registration("a@example.com")
	in.RefererCode = "REFCODE1"
	if _, err := f.svc.RequestRegistrationOTP(ctx, in); err != nil {
		t.Fatalf("RequestRegistrationOTP: %v", err)
	}

	in = registration("b@example.com")
	in.RefererCode = "UNKNOWN1"
	if _, err := f.svc.RequestRegistrationOTP(ctx, in); err != nil {
		t.Fatalf("RequestRegistrationOTP: %v", err)
	}

	a, _ := f.users.GetByEmail(ctx, "a@example.com")
	if a.ReferrerID != referrer.ID {
		t.Fatalf("expected referrer %s, got %q", referrer.ID, a.ReferrerID)
	}
	b, _ := f.users.GetByEmail(ctx, "b@example.com")
	if b.ReferrerID != "" {
		t.Fatalf("unknown referral code must not set a referrer, got %q", b.ReferrerID)
	}
}

func TestRequestRegistrationOTPSwallowsMailFailure(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	f.mail.err = errors.New("smtp down")

	sent, err := f.svc.RequestRegistrationOTP(context.Background(), registration("a@example.com"))
	if err != nil {
		t.Fatalf("mail failure must not surface: %v", err)
	}
	if sent {
		t.Fatal("expected sent=false when delivery fails")
	}
	if f.otps.Len() != 1 {
		t.Fatal("expected OTP to stay stored")
	}
}

func TestVerifyOTPActivatesUser(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	if _, err := f.svc.RequestRegistrationOTP(ctx, registration("a@example.com")); err != nil {
		t.Fatalf("RequestRegistrationOTP: %v", err)
	}
	code := f.mail.code("a@example.com")

	token, user, err := f.svc.VerifyOTP(ctx, code, "")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	claims, err := f.tokens.VerifyToken(token, TokenTypeAccess)
	if err != nil || claims.Subject != user.ID {
		t.Fatalf("token must decode to the user id, got %+v, %v", claims, err)
	}

	stored, _ := f.users.GetByID(ctx, user.ID)
	if stored.Status != models.StatusActive || stored.LoginCount != 1 {
		t.Fatalf("unexpected user after verify %+v", stored)
	}
	if f.otps.Len() != 0 {
		t.Fatal("expected OTP to be deleted")
	}

	if _, _, err := f.svc.VerifyOTP(ctx, code, ""); !apperror.IsKind(err, apperror.KindInvalidOrExpiredOTP) {
		t.Fatalf("second verify must fail with InvalidOrExpiredOtp, got %v", err)
	}
}

func TestVerifyOTPFailures(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	if _, _, err := f.svc.VerifyOTP(ctx, "", ""); !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, _, err := f.svc.VerifyOTP(ctx, "000000", ""); !apperror.IsKind(err, apperror.KindInvalidOrExpiredOTP) {
		t.Fatalf("expected InvalidOrExpiredOtp, got %v", err)
	}

	if _, err := f.svc.RequestRegistrationOTP(ctx, registration("a@example.com")); err != nil {
		t.Fatalf("RequestRegistrationOTP: %v", err)
	}
	code := f.mail.code("a@example.com")

	if _, _, err := f.svc.VerifyOTP(ctx, code, "b@example.com"); !apperror.IsKind(err, apperror.KindInvalidOrExpiredOTP) {
		t.Fatalf("mismatched email must fail, got %v", err)
	}

	f.clock.Advance(61 * time.Second)
	if _, _, err := f.svc.VerifyOTP(ctx, code, ""); !apperror.IsKind(err, apperror.KindInvalidOrExpiredOTP) {
		t.Fatalf("expired code must fail, got %v", err)
	}
	user, _ := f.users.GetByEmail(ctx, "a@example.com")
	if user.Status != models.StatusInactive {
		t.Fatal("expired code must not activate the user")
	}
}

func TestVerifyOTPWithoutUserKeepsCode(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	otp, err := f.svc.otps.Issue(ctx, "ghost@example.com", PurposeRegistration)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, _, err := f.svc.VerifyOTP(ctx, otp.Code, ""); !apperror.IsKind(err, apperror.KindAccountNotFound) {
		t.Fatalf("expected AccountNotFound, got %v", err)
	}
	if f.otps.Len() != 1 {
		t.Fatal("expected OTP to be kept when no user exists")
	}
}

func TestRequestLoginOTP(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	if _, err := f.svc.RequestLoginOTP(ctx, "a@example.com"); !apperror.IsKind(err, apperror.KindAccountNotFound) {
		t.Fatalf("expected AccountNotFound, got %v", err)
	}

	inactive := &models.User{Email: "a@example.com", Status: models.StatusInactive}
	if err := f.users.Create(ctx, inactive); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.RequestLoginOTP(ctx, "a@example.com"); !apperror.IsKind(err, apperror.KindAccountNotFound) {
		t.Fatalf("inactive user must not get a login code, got %v", err)
	}

	if err := f.users.Activate(ctx, inactive.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	code, err := f.svc.RequestLoginOTP(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("RequestLoginOTP: %v", err)
	}
	if code != "" {
		t.Fatal("code must not be echoed by default")
	}
	if _, err := f.svc.RequestLoginOTP(ctx, "a@example.com"); !apperror.IsKind(err, apperror.KindOTPAlreadyRequested) {
		t.Fatalf("expected OtpAlreadyRequested, got %v", err)
	}
}

func TestRequestLoginOTPEcho(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{EchoLoginCode: true})
	ctx := context.Background()

	user := &models.User{Email: "a@example.com", Status: models.StatusActive}
	if err := f.users.Create(ctx, user); err != nil {
		t.Fatalf("Create: %v", err)
	}

	code, err := f.svc.RequestLoginOTP(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("RequestLoginOTP: %v", err)
	}
	if code == "" || code != f.mail.code("a@example.com") {
		t.Fatalf("expected echoed code to match mailed code, got %q", code)
	}
}

const goodPassword = "Str0ng!Pass"

func TestAdminRegisterAndLogin(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	session, err := f.svc.AdminRegister(ctx, AdminRegisterInput{Email: "root@example.com", Password: goodPassword, Name: "Root"})
	if err != nil {
		t.Fatalf("AdminRegister: %v", err)
	}
	if session.Admin.Status != models.StatusInactive || session.Tokens.RefreshToken == "" {
		t.Fatalf("unexpected session %+v", session)
	}

	_, err = f.svc.AdminRegister(ctx, AdminRegisterInput{Email: "root@example.com", Password: goodPassword, Name: "Root"})
	if !apperror.IsKind(err, apperror.KindAdminAlreadyExists) {
		t.Fatalf("expected AdminAlreadyExists, got %v", err)
	}

	if _, err := f.svc.AdminLogin(ctx, "root@example.com", "wrong"); !apperror.IsKind(err, apperror.KindInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
	if _, err := f.svc.AdminLogin(ctx, "nobody@example.com", goodPassword); !apperror.IsKind(err, apperror.KindInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials for unknown admin, got %v", err)
	}

	login, err := f.svc.AdminLogin(ctx, "root@example.com", goodPassword)
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}
	if login.Admin.LoginCount != 1 || login.Admin.RefreshToken != login.Tokens.RefreshToken {
		t.Fatalf("unexpected admin after login %+v", login.Admin)
	}
	claims, err := f.tokens.VerifyToken(login.Tokens.AccessToken, TokenTypeAccess)
	if err != nil || claims.Subject != login.Admin.ID {
		t.Fatalf("access token must carry the admin id, got %+v, %v", claims, err)
	}
}

func TestAdminRegisterPasswordPolicy(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})

	_, err := f.svc.AdminRegister(context.Background(), AdminRegisterInput{Email: "root@example.com", Password: "weakpass", Name: "Root"})
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAdminRefresh(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{AdminAutoActivate: true})
	ctx := context.Background()

	if _, err := f.svc.AdminRegister(ctx, AdminRegisterInput{Email: "root@example.com", Password: goodPassword, Name: "Root"}); err != nil {
		t.Fatalf("AdminRegister: %v", err)
	}
	login, err := f.svc.AdminLogin(ctx, "root@example.com", goodPassword)
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}

	access, err := f.svc.AdminRefresh(ctx, login.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("AdminRefresh: %v", err)
	}
	if _, err := f.tokens.VerifyToken(access, TokenTypeAccess); err != nil {
		t.Fatalf("refreshed token invalid: %v", err)
	}

	if _, err := f.svc.AdminRefresh(ctx, login.Tokens.AccessToken); !apperror.IsKind(err, apperror.KindUnauthorized) {
		t.Fatalf("access token must not refresh, got %v", err)
	}

	if err := f.svc.AdminLogout(ctx, login.Admin); err != nil {
		t.Fatalf("AdminLogout: %v", err)
	}
	if _, err := f.svc.AdminRefresh(ctx, login.Tokens.RefreshToken); !apperror.IsKind(err, apperror.KindUnauthorized) {
		t.Fatalf("refresh after logout must fail, got %v", err)
	}
}

func TestAdminPasswordReset(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	if _, err := f.svc.AdminRegister(ctx, AdminRegisterInput{Email: "root@example.com", Password: goodPassword, Name: "Root"}); err != nil {
		t.Fatalf("AdminRegister: %v", err)
	}

	if err := f.svc.AdminForgotPassword(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("unknown email must succeed silently: %v", err)
	}
	if err := f.svc.AdminForgotPassword(ctx, "root@example.com"); err != nil {
		t.Fatalf("AdminForgotPassword: %v", err)
	}
	token := f.mail.resets["root@example.com"]
	if token == "" {
		t.Fatal("expected reset token to be mailed")
	}

	if err := f.svc.AdminResetPassword(ctx, "bogus", "N3w!Password"); !apperror.IsKind(err, apperror.KindInvalidOrExpiredToken) {
		t.Fatalf("expected InvalidOrExpiredToken, got %v", err)
	}
	if err := f.svc.AdminResetPassword(ctx, token, "N3w!Password"); err != nil {
		t.Fatalf("AdminResetPassword: %v", err)
	}
	if err := f.svc.AdminResetPassword(ctx, token, "N3w!Password"); !apperror.IsKind(err, apperror.KindInvalidOrExpiredToken) {
		t.Fatalf("reset token must be single use, got %v", err)
	}

	if _, err := f.svc.AdminLogin(ctx, "root@example.com", goodPassword); err == nil {
		t.Fatal("old password must stop working")
	}
	if _, err := f.svc.AdminLogin(ctx, "root@example.com", "N3w!Password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestAdminPasswordResetExpires(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	if _, err := f.svc.AdminRegister(ctx, AdminRegisterInput{Email: "root@example.com", Password: goodPassword, Name: "Root"}); err != nil {
		t.Fatalf("AdminRegister: %v", err)
	}
	if err := f.svc.AdminForgotPassword(ctx, "root@example.com"); err != nil {
		t.Fatalf("AdminForgotPassword: %v", err)
	}

	f.clock.Advance(31 * time.Minute)
	err := f.svc.AdminResetPassword(ctx, f.mail.resets["root@example.com"], "N3w!Password")
	if !apperror.IsKind(err, apperror.KindInvalidOrExpiredToken) {
		t.Fatalf("expected expired reset token, got %v", err)
	}
}
