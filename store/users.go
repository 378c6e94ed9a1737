package store

import (
	"fmt"
	"time"
)

// Roles a dashboard user can hold.
const (
	RoleAdmin          = "admin"
	RoleManager        = "manager"
	RoleStaffPurchaser = "staff_purchaser"
	RoleStaffWarehouse = "staff_warehouse"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleStaffPurchaser, RoleStaffWarehouse:
		return true
	}
	return false
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

func (db *DB) CreateUser(username, passwordHash, role string) error {
	if !ValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	_, err := db.Exec(db.Q(`INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)`), username, passwordHash, role)
	return err
}

func (db *DB) GetUser(username string) (*User, error) {
	var u User
	var createdAt any
	err := db.QueryRow(db.Q(`SELECT id, username, password_hash, role, created_at FROM users WHERE username=?`), username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (db *DB) ListUsers() ([]*User, error) {
	rows, err := db.Query(`SELECT id, username, role, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		var u User
		var createdAt any
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = parseTime(createdAt)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (db *DB) SetUserRole(username, role string) error {
	if !ValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	res, err := db.Exec(db.Q(`UPDATE users SET role=? WHERE username=?`), role, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) UserExists() (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count > 0, err
}
