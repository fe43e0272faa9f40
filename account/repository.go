package account

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"propertyhub/db"
	"propertyhub/errutil"
)

// Repository handles data access for accounts. Every method runs on the
// supplied querier so lookups can join a caller's transaction.
type Repository interface {
	CreateUser(ctx context.Context, q db.Querier, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, q db.Querier, email string) (User, error)
	GetUserByID(ctx context.Context, q db.Querier, userID string) (User, error)
	Exists(ctx context.Context, q db.Querier, userID string) (bool, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	Role         Role
	CreatedAt    time.Time
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const userColumns = `id, email, full_name, password_hash, phone, role, created_at, updated_at`

// CreateUser inserts a new user with a hashed password.
func (r *PGRepository) CreateUser(ctx context.Context, q db.Querier, params CreateUserParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (id, email, full_name, password_hash, phone, role, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $7)
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRow(ctx, insertSQL,
		params.ID, params.Email, params.FullName, params.PasswordHash, params.Phone, params.Role, params.CreatedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, oops.Code("EMAIL_TAKEN").With("email", params.Email).Wrap(errutil.ErrConflict)
		}
		return User{}, oops.Code("USER_CREATE_FAILED").Wrap(err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email address, case-insensitively.
func (r *PGRepository) GetUserByEmail(ctx context.Context, q db.Querier, email string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`

	user, err := scanUser(q.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(errutil.ErrNotFound)
		}
		return User{}, oops.Code("USER_LOOKUP_FAILED").Wrap(err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, q db.Querier, userID string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(q.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(errutil.ErrNotFound)
		}
		return User{}, oops.Code("USER_LOOKUP_FAILED").With("user_id", userID).Wrap(err)
	}
	return user, nil
}

// Exists reports whether a user row exists.
func (r *PGRepository) Exists(ctx context.Context, q db.Querier, userID string) (bool, error) {
	var ok bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&ok); err != nil {
		return false, oops.Code("USER_LOOKUP_FAILED").With("user_id", userID).Wrap(err)
	}
	return ok, nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.Phone,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
