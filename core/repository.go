package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// UserRecord represents a user row as stored in persistence layer.
type UserRecord struct {
	ID           int64
	Username     string
	Name         string
	Email        string
	Department   string
	Role         string
	PasswordHash string
	FaceSubject  *string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

// UserListItem is a projection for admin user listing (no password hash).
type UserListItem struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Name        string     `json:"name"`
	Department  string     `json:"department"`
	Role        string     `json:"role"`
	FaceEnabled bool       `json:"face_enabled"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// UserCreateInput carries a new account; PasswordHash must already be hashed.
type UserCreateInput struct {
	Username     string
	Name         string
	Email        string
	Department   string
	Role         string
	PasswordHash string
	FaceSubject  string
}

// UserLookup is the read-only view the login paths use.
// Lookups return ErrUserNotFound when no row matches.
type UserLookup interface {
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
	FindByFaceSubject(ctx context.Context, subject string) (*UserRecord, error)
	// FindNearestFace returns the enrolled user closest to embedding and its cosine distance.
	FindNearestFace(ctx context.Context, embedding []float32) (*UserRecord, float64, error)
}

// UserRepository adds the write operations used by provisioning and bookkeeping.
type UserRepository interface {
	UserLookup
	Create(ctx context.Context, in UserCreateInput) (int64, error)
	HasAdmin(ctx context.Context) (bool, error)
	List(ctx context.Context, page, perPage int) ([]UserListItem, int, error)
	EnrollFace(ctx context.Context, username, subject string, embedding []float32) error
	RecordLogin(ctx context.Context, id int64, at time.Time) error
}

// PgUserRepository implements UserRepository using pgxpool.
type PgUserRepository struct {
	db *pgxpool.Pool
}

func NewPgUserRepository(db *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{db: db}
}

const userColumns = `id, username, name, email, department, role, password_hash, face_subject, is_active, last_login_at, created_at`

func scanUser(row pgx.Row, extra ...any) (*UserRecord, error) {
	var u UserRecord
	dest := []any{&u.ID, &u.Username, &u.Name, &u.Email, &u.Department, &u.Role, &u.PasswordHash,
		&u.FaceSubject, &u.IsActive, &u.LastLoginAt, &u.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PgUserRepository) FindByUsername(ctx context.Context, username string) (*UserRecord, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE username=$1`
	return scanUser(r.db.QueryRow(ctx, q, username))
}

func (r *PgUserRepository) FindByFaceSubject(ctx context.Context, subject string) (*UserRecord, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE face_subject=$1`
	return scanUser(r.db.QueryRow(ctx, q, subject))
}

func (r *PgUserRepository) FindNearestFace(ctx context.Context, embedding []float32) (*UserRecord, float64, error) {
	if len(embedding) == 0 {
		return nil, 0, ErrUserNotFound
	}
	q := `SELECT ` + userColumns + `, face_embedding <=> $1::vector AS distance
		FROM users
		WHERE face_embedding IS NOT NULL AND vector_dims(face_embedding) = $2
		ORDER BY face_embedding <=> $1::vector
		LIMIT 1`
	var distance float64
	u, err := scanUser(r.db.QueryRow(ctx, q, pgvector.NewVector(embedding), len(embedding)), &distance)
	if err != nil {
		return nil, 0, err
	}
	return u, distance, nil
}

func (r *PgUserRepository) Create(ctx context.Context, in UserCreateInput) (int64, error) {
	const q = `INSERT INTO users (username, name, email, department, role, password_hash, face_subject)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,'')) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, in.Username, in.Name, in.Email, in.Department, in.Role, in.PasswordHash, in.FaceSubject).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, ErrUserExists
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

func (r *PgUserRepository) HasAdmin(ctx context.Context) (bool, error) {
	const q = `SELECT 1 FROM users WHERE role='admin' LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns paginated users without password hash.
func (r *PgUserRepository) List(ctx context.Context, page, perPage int) ([]UserListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	const countQ = `SELECT COUNT(*) FROM users`
	var total int
	if err := r.db.QueryRow(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, username, name, department, role,
		(face_subject IS NOT NULL OR face_embedding IS NOT NULL), last_login_at, created_at
		FROM users ORDER BY id LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]UserListItem, 0, perPage)
	for rows.Next() {
		var u UserListItem
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Department, &u.Role, &u.FaceEnabled, &u.LastLoginAt, &u.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

// EnrollFace replaces the face data of a user. Empty subject and nil embedding clear it.
func (r *PgUserRepository) EnrollFace(ctx context.Context, username, subject string, embedding []float32) error {
	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}
	const q = `UPDATE users SET face_subject=NULLIF($2,''), face_embedding=$3::vector WHERE username=$1`
	tag, err := r.db.Exec(ctx, q, username, subject, vec)
	if err != nil {
		return fmt.Errorf("enroll face: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PgUserRepository) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE users SET last_login_at=$2, is_active=TRUE WHERE id=$1`
	_, err := r.db.Exec(ctx, q, id, at)
	return err
}
