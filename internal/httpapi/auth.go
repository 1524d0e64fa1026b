package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmaflow/backend/internal/domain"
	"pharmaflow/backend/internal/otp"
	"pharmaflow/backend/internal/store"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidRequest     = errors.New("invalid request")
	errAdminPIN           = errors.New("valid admin pin required to register an admin")
	errInvalidResetCode   = errors.New("invalid or expired reset code")
	errResetUnavailable   = errors.New("password reset is not configured")
)

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	adminPIN  string
	userStore UserStore
	resets    *otp.Manager
	logger    *zap.Logger
	users     map[string]domain.UserAccount
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type accessClaims struct {
	jwtlib.RegisteredClaims
	UserID string `json:"uid"`
	Role   string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, adminPIN string, userStore UserStore, resets *otp.Manager, logger *zap.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	adminPIN = strings.TrimSpace(adminPIN)
	if adminPIN == "" {
		adminPIN = "disabled"
	}
	if hashedPIN, err := hashPassword(adminPIN); err == nil {
		adminPIN = hashedPIN
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		adminPIN:  adminPIN,
		userStore: userStore,
		resets:    resets,
		logger:    logger.Named("auth"),
		users:     make(map[string]domain.UserAccount),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	user, ok := a.lookup(ctx, username)
	if !ok || !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        user.Profile(),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &accessClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.UserID == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{UserID: claims.UserID, Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := accessClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "pharmaflow",
		},
		UserID: user.ID,
		Role:   user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ValidateAdminPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.adminPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.adminPIN), []byte(input)) == nil
}

// Register creates a staff account, or an admin account when the admin PIN
// is supplied.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.StaffProfile, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.StaffProfile{}, fmt.Errorf("%w: username must be at least 4 characters", errInvalidRequest)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.StaffProfile{}, fmt.Errorf("%w: username must not contain spaces", errInvalidRequest)
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.StaffProfile{}, fmt.Errorf("%w: password must be at least 6 characters", errInvalidRequest)
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	switch role {
	case "", domain.RoleStaff:
		role = domain.RoleStaff
	case domain.RoleAdmin:
		if !a.ValidateAdminPIN(req.AdminPIN) {
			return domain.StaffProfile{}, errAdminPIN
		}
	default:
		return domain.StaffProfile{}, fmt.Errorf("%w: unknown role %q", errInvalidRequest, req.Role)
	}

	if _, exists := a.lookup(ctx, username); exists {
		return domain.StaffProfile{}, store.ErrConflict
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.StaffProfile{}, fmt.Errorf("failed to hash password")
	}

	user := domain.UserAccount{
		ID:        "usr-" + username,
		Username:  username,
		Password:  passwordHash,
		Role:      role,
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, user); err != nil {
			return domain.StaffProfile{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = user
	a.mu.Unlock()

	a.logger.Info("user registered", zap.String("username", username), zap.String("role", role))
	return user.Profile(), nil
}

// RequestPasswordReset issues a reset code when the account exists. The
// outcome is never reported to the caller.
func (a *AuthManager) RequestPasswordReset(ctx context.Context, username string) {
	username = strings.ToLower(strings.TrimSpace(username))
	if a.resets == nil || username == "" {
		return
	}
	user, ok := a.lookup(ctx, username)
	if !ok || !user.Active {
		return
	}
	if err := a.resets.Issue(ctx, username); err != nil {
		a.logger.Error("issue reset code failed", zap.String("username", username), zap.Error(err))
	}
}

func (a *AuthManager) ConfirmPasswordReset(ctx context.Context, req domain.PasswordResetConfirmRequest) error {
	if a.resets == nil {
		return errResetUnavailable
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || strings.TrimSpace(req.Code) == "" {
		return fmt.Errorf("%w: username and code are required", errInvalidRequest)
	}
	if strings.TrimSpace(req.NewPassword) == "" || len(req.NewPassword) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", errInvalidRequest)
	}

	if err := a.resets.Verify(ctx, username, req.Code); err != nil {
		if errors.Is(err, otp.ErrTooManyAttempts) {
			return err
		}
		if errors.Is(err, otp.ErrInvalidCode) || errors.Is(err, otp.ErrExpired) {
			return errInvalidResetCode
		}
		return err
	}

	passwordHash, err := hashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password")
	}
	if a.userStore != nil {
		if err := a.userStore.UpdateUserPassword(ctx, username, passwordHash); err != nil {
			return err
		}
	}

	a.mu.Lock()
	if user, ok := a.users[username]; ok {
		user.Password = passwordHash
		a.users[username] = user
	}
	a.mu.Unlock()

	a.logger.Info("password reset", zap.String("username", username))
	return nil
}

// lookup reloads accounts from the user store on every call so password
// resets and profile edits made through another instance apply at once. The
// cache answers only when there is no store or the store cannot be read.
func (a *AuthManager) lookup(ctx context.Context, username string) (domain.UserAccount, bool) {
	a.bootstrapUsers(ctx)

	a.mu.RLock()
	user, ok := a.users[username]
	a.mu.RUnlock()
	return user, ok
}

// bootstrapUsers replaces the in-memory credential cache with the accounts in
// the user store. It also upgrades any legacy plain-text passwords to bcrypt
// hashes in the store.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.logger.Warn("load users failed", zap.Error(err))
		return
	}

	loaded := make(map[string]domain.UserAccount, len(users))
	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		if !isPasswordHash(user.Password) {
			hashed, err := hashPassword(user.Password)
			if err == nil {
				user.Password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					a.logger.Warn("upgrade legacy password failed", zap.String("username", username), zap.Error(err))
				}
			}
		}
		loaded[username] = user
	}

	a.mu.Lock()
	a.users = loaded
	a.mu.Unlock()
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
