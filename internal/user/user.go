package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"snackticket/internal/store"
)

const usersKey = "users"

// Roles a user record may carry.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateID        = errors.New("id already registered")
)

// User is one record in the directory. Credentials are opaque strings
// compared for equality; hardening them is out of scope here.
type User struct {
	ID       string `json:"id"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Class    string `json:"class,omitempty"`
}

// Directory stores all users as a single JSON array under the "users" key.
// The mutex serializes the read-modify-write cycle on that array; the
// store itself has no transactions.
type Directory struct {
	kv store.KV
	mu sync.Mutex
}

// NewDirectory creates a directory over the given store.
func NewDirectory(kv store.KV) *Directory {
	return &Directory{kv: kv}
}

func (d *Directory) load(ctx context.Context) ([]User, error) {
	raw, ok, err := d.kv.Get(ctx, usersKey)
	if err != nil {
		return nil, fmt.Errorf("user: reading directory: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var users []User
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, fmt.Errorf("user: decoding directory: %w", err)
	}
	return users, nil
}

func (d *Directory) save(ctx context.Context, users []User) error {
	raw, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("user: encoding directory: %w", err)
	}
	if err := d.kv.Set(ctx, usersKey, string(raw)); err != nil {
		return fmt.Errorf("user: writing directory: %w", err)
	}
	return nil
}

// Get returns the user with the given id.
func (d *Directory) Get(ctx context.Context, id string) (User, error) {
	users, err := d.load(ctx)
	if err != nil {
		return User{}, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

// Authenticate checks id and password and returns the matching user.
// Unknown ids and wrong passwords are indistinguishable to the caller.
func (d *Directory) Authenticate(ctx context.Context, id, password string) (User, error) {
	u, err := d.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if u.Password != password {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Register appends a new user, rejecting duplicate ids. Student ids must be
// exactly eight digits (the enrollment number format); students must carry
// a class id, admins must not.
func (d *Directory) Register(ctx context.Context, u User) error {
	if u.Role != RoleStudent && u.Role != RoleAdmin {
		return fmt.Errorf("user: unknown role %q", u.Role)
	}
	if u.Role == RoleStudent {
		if !validStudentID(u.ID) {
			return errors.New("user: student id must be exactly 8 digits")
		}
		if u.Class == "" {
			return errors.New("user: student requires a class")
		}
	}
	if u.ID == "" || u.Password == "" || u.Name == "" {
		return errors.New("user: id, password and name are required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	users, err := d.load(ctx)
	if err != nil {
		return err
	}
	for _, existing := range users {
		if existing.ID == u.ID {
			return ErrDuplicateID
		}
	}
	return d.save(ctx, append(users, u))
}

// ResetPassword replaces a student's password. The self-service flow only
// covers students; admin credentials are managed out of band.
func (d *Directory) ResetPassword(ctx context.Context, id, newPassword string) error {
	if newPassword == "" {
		return errors.New("user: new password required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	users, err := d.load(ctx)
	if err != nil {
		return err
	}
	for i, u := range users {
		if u.ID == id && u.Role == RoleStudent {
			users[i].Password = newPassword
			return d.save(ctx, users)
		}
	}
	return ErrNotFound
}

// ListByClass returns the students assigned to classID.
func (d *Directory) ListByClass(ctx context.Context, classID string) ([]User, error) {
	users, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []User
	for _, u := range users {
		if u.Role == RoleStudent && u.Class == classID {
			out = append(out, u)
		}
	}
	return out, nil
}

// Seed writes the development fixture users unless a directory already
// exists. Enabled only through SEED_USERS.
func (d *Directory) Seed(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok, err := d.kv.Get(ctx, usersKey); err != nil {
		return err
	} else if ok {
		return nil
	}
	return d.save(ctx, []User{
		{ID: "12345678", Password: "123456", Role: RoleStudent, Name: "João Silva", Class: "DS-V1"},
		{ID: "87654321", Password: "123456", Role: RoleStudent, Name: "Maria Santos", Class: "DS-V2"},
		{ID: "11111111", Password: "123456", Role: RoleStudent, Name: "Pedro Oliveira", Class: "MA-V1"},
		{ID: "99999999", Password: "999999", Role: RoleStudent, Name: "Aluno Teste", Class: "MA-V1"},
		{ID: "admin123", Password: "admin123", Role: RoleAdmin, Name: "Administrador"},
	})
}

func validStudentID(id string) bool {
	if len(id) != 8 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
