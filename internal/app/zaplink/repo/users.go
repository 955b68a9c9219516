package repo

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

var ErrUserNotFound = errors.New("user not found")
var ErrUserAlreadyExists = errors.New("username already exists")
var ErrInvalidUsername = errors.New("username is not allowed")
var ErrInvalidPassword = errors.New("password is not allowed")

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
}

// 用户名 3~32，密码 8~72（bcrypt 只看前 72 字节）
func validateCredentials(name, password string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) < 3 || len(name) > 32 {
		return "", ErrInvalidUsername
	}
	if len(password) < 8 || len(password) > 72 {
		return "", ErrInvalidPassword
	}
	return name, nil
}

type UsersRepo struct {
	db   *pgxpool.Pool
	cost int
}

func NewUsersRepo(db *pgxpool.Pool, cost int) *UsersRepo {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &UsersRepo{db: db, cost: cost}
}

func (u *UsersRepo) FindByUsername(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	row := u.db.QueryRow(dbctx, "SELECT id, username, password_hash, role FROM users WHERE username=$1 LIMIT 1", username)
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		slog.Error(err.Error())
		return User{}, err
	}
	return user, nil
}

func (u *UsersRepo) Register(ctx context.Context, name string, password string) (int64, error) {
	name, err := validateCredentials(name, password)
	if err != nil {
		return -1, err
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), u.cost)
	if err != nil {
		slog.Error(err.Error())
		return -1, err
	}
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var id int64
	if err := u.db.
		QueryRow(dbctx, "INSERT INTO users (username,password_hash,role) VALUES ($1,$2,'user') ON CONFLICT (username) DO NOTHING RETURNING id", name, string(passwordHash)).
		Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return -1, ErrUserAlreadyExists
		}
		slog.Error(err.Error())
		return -1, err
	}

	return id, nil
}

// MemoryUsers 内存版用户表，STORE_DRIVER=memory 时使用。
type MemoryUsers struct {
	mu     sync.RWMutex
	cost   int
	nextID int64
	byName map[string]User
}

func NewMemoryUsers(cost int) *MemoryUsers {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &MemoryUsers{cost: cost, byName: make(map[string]User)}
}

func (m *MemoryUsers) FindByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.byName[strings.TrimSpace(username)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryUsers) Register(_ context.Context, name string, password string) (int64, error) {
	name, err := validateCredentials(name, password)
	if err != nil {
		return -1, err
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
	if err != nil {
		return -1, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[name]; ok {
		return -1, ErrUserAlreadyExists
	}
	m.nextID++
	m.byName[name] = User{ID: m.nextID, Username: name, PasswordHash: string(passwordHash), Role: "user"}
	return m.nextID, nil
}

// SetRole 只用于测试与本地开发（提升为 admin）。
func (m *MemoryUsers) SetRole(name, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byName[name]
	if !ok {
		return ErrUserNotFound
	}
	user.Role = role
	m.byName[name] = user
	return nil
}
