package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"propertyhub/db"
	"propertyhub/errutil"
)

const minPasswordLength = 8

// ErrInvalidCredentials signals wrong email or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service handles account registration, authentication and party lookups.
type Service struct {
	pool      db.Querier
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
	newID     func() string
}

// NewService creates a new account service.
func NewService(pool db.Querier, repo Repository, jwtSecret string, tokenTTL time.Duration) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock overrides the time source (primarily for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator overrides the id source (primarily for tests).
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.newID = gen
	}
	return s
}

// Register creates a new user account. Role defaults to buyer.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, error) {
	if len(req.Password) < minPasswordLength {
		return User{}, oops.Code("PASSWORD_TOO_SHORT").With("min_length", minPasswordLength).Wrap(errutil.ErrValidation)
	}
	email := strings.TrimSpace(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" {
		return User{}, oops.Code("ACCOUNT_FIELDS_REQUIRED").Wrap(errutil.ErrValidation)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleBuyer
	}
	if !isValidRole(role) {
		return User{}, oops.Code("ROLE_INVALID").With("role", role).Wrap(errutil.ErrValidation)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}

	return s.repo.CreateUser(ctx, s.pool, CreateUserParams{
		ID:           s.newID(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(passwordHash),
		Phone:        req.Phone,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	})
}

// Login authenticates a user and returns a signed token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, s.pool, req.Email)
	if err != nil {
		if errors.Is(err, errutil.ErrNotFound) {
			return LoginResult{}, oops.Code("INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, oops.Code("INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	expiresAt := s.now().Add(s.tokenTTL)
	token, err := s.generateToken(user.ID, user.Role, expiresAt)
	if err != nil {
		return LoginResult{}, oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}

	return LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// VerifyToken validates a token and returns the user id and role it carries.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, oops.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", "", oops.Code("TOKEN_INVALID").Wrap(ErrInvalidCredentials)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", oops.Code("TOKEN_INVALID").Wrap(ErrInvalidCredentials)
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", "", oops.Code("TOKEN_INVALID").With("claim", "user_id").Wrap(ErrInvalidCredentials)
	}
	roleStr, _ := claims["role"].(string)
	role := Role(roleStr)
	if !isValidRole(role) {
		return "", "", oops.Code("TOKEN_INVALID").With("claim", "role").Wrap(ErrInvalidCredentials)
	}
	return userID, role, nil
}

// Get retrieves a user by id.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	return s.repo.GetUserByID(ctx, s.pool, userID)
}

// ByEmail retrieves a user by email address.
func (s *Service) ByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.GetUserByEmail(ctx, s.pool, strings.TrimSpace(email))
}

// Exists reports whether userID names an account. q lets callers check
// inside their own transaction.
func (s *Service) Exists(ctx context.Context, q db.Querier, userID string) (bool, error) {
	if q == nil {
		q = s.pool
	}
	if _, err := uuid.Parse(userID); err != nil {
		return false, nil
	}
	return s.repo.Exists(ctx, q, userID)
}

// Email returns the address of userID.
func (s *Service) Email(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.GetUserByID(ctx, s.pool, userID)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

func (s *Service) generateToken(userID string, role Role, expiresAt time.Time) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", oops.Errorf("jwt secret not configured")
	}
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     expiresAt.Unix(),
		"iat":     s.now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
