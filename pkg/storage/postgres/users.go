// Copyright 2026 The Fablegrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// ErrDuplicateUser is returned when the email or username is already taken.
var ErrDuplicateUser = errors.New("email or username already registered")

// CreateUser inserts a new account.
func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	_, err := s.pool.Exec(ctx, `
	INSERT INTO users (id, email, username, password_hash, created_at)
	VALUES ($1, $2, $3, $4, $5)`,
		user.ID, strings.ToLower(user.Email), user.Username, user.PasswordHash, user.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("create user %s: %w", user.ID, err)
	}
	return nil
}

// GetUserByEmail looks an account up by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
	SELECT id, email, username, password_hash, created_at
	FROM users WHERE email = $1`, strings.ToLower(email)))
}

// GetUser loads an account by id.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
	SELECT id, email, username, password_hash, created_at
	FROM users WHERE id = $1`, id))
}

// UpdateUser rewrites the mutable account fields.
func (s *Store) UpdateUser(ctx context.Context, user *types.User) error {
	_, err := s.pool.Exec(ctx, `
	UPDATE users SET username = $2, password_hash = $3 WHERE id = $1`,
		user.ID, user.Username, user.PasswordHash)
	if isUniqueViolation(err) {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("update user %s: %w", user.ID, err)
	}
	return nil
}

func (s *Store) scanUser(row pgx.Row) (*types.User, error) {
	var user types.User
	err := row.Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}
