package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/logging"
)

const tokenIssuer = "arcadepos"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore is the slice of the repository that holds login accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues and verifies HS256 access tokens. Accounts are read from
// the user store on every call, so cashiers created by another instance can log
// in without a restart.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
	clock    func() time.Time
	log      zerolog.Logger
}

type actorClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		clock:    time.Now,
		log:      logging.Component("auth"),
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	account, err := a.findUser(ctx, req.Username)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if account == nil || !a.checkPassword(ctx, *account, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := a.clock().UTC().Add(a.tokenTTL)
	token, err := a.sign(account.Username, account.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	claims := &actorClaims{}
	token, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(a.clock),
	)
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{Username: subject, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username string, role string, expiresAt time.Time) (string, error) {
	claims := actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(a.clock().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < 4:
		return domain.CashierUser{}, fmt.Errorf("%w: username must be at least 4 characters", domain.ErrInvalidInput)
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.CashierUser{}, fmt.Errorf("%w: username must not contain spaces", domain.ErrInvalidInput)
	case len(strings.TrimSpace(req.Password)) < 6:
		return domain.CashierUser{}, fmt.Errorf("%w: password must be at least 6 characters", domain.ErrInvalidInput)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: a.clock().UTC(),
	}
	if err := a.users.CreateUser(ctx, account); err != nil {
		return domain.CashierUser{}, err
	}
	return toCashierUser(account), nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) ([]domain.CashierUser, error) {
	accounts, err := a.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	cashiers := make([]domain.CashierUser, 0, len(accounts))
	for _, account := range accounts {
		if account.Role == domain.RoleCashier {
			cashiers = append(cashiers, toCashierUser(account))
		}
	}
	return cashiers, nil
}

func (a *AuthManager) findUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, nil
	}
	accounts, err := a.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if normalizeUsername(accounts[i].Username) == username {
			return &accounts[i], nil
		}
	}
	return nil, nil
}

// checkPassword also accepts seeded plain-text passwords, replacing them with
// a bcrypt hash on the first successful login.
func (a *AuthManager) checkPassword(ctx context.Context, account domain.UserAccount, input string) bool {
	if strings.TrimSpace(input) == "" || account.Password == "" {
		return false
	}
	if isPasswordHash(account.Password) {
		return bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(input)) == nil
	}
	if account.Password != input {
		return false
	}
	if hash, err := hashPassword(input); err == nil {
		if err := a.users.UpdateUserPassword(ctx, account.Username, hash); err != nil {
			a.log.Warn().Err(err).Str("username", account.Username).Msg("failed to upgrade legacy password")
		}
	}
	return true
}

func toCashierUser(account domain.UserAccount) domain.CashierUser {
	return domain.CashierUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
