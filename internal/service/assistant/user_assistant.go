package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/angelfsepulveda/customchatfree/internal/models"
	"github.com/angelfsepulveda/customchatfree/internal/storage"
)

// GetOrCreateUser returns the id of username, creating the user on first use.
func (s *Service) GetOrCreateUser(ctx context.Context, tx *storage.Tx, username string) (int64, error) {
	if err := requireText("username", username); err != nil {
		return 0, err
	}
	username = strings.TrimSpace(username)

	var userID int64
	err := s.write(ctx, tx, "get_or_create_user", func(tx *storage.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT user_id FROM users WHERE username = ?`, username,
		).Scan(&userID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query user: %w", err)
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO users (username) VALUES (?)`, username)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if userID, err = insertedID(res, "user"); err != nil {
			return err
		}
		_, err = s.insertLog(ctx, tx, ActionUserCreated,
			fmt.Sprintf("Username: %s, User ID: %d", username, userID))
		return err
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// GetUserByUsername looks a user up without creating it.
func (s *Service) GetUserByUsername(ctx context.Context, tx *storage.Tx, username string) (*models.User, error) {
	if err := requireText("username", username); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)

	var user models.User
	err := s.read(ctx, tx, "get_user_by_username", func(tx *storage.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT user_id, username FROM users WHERE username = ?`, username,
		).Scan(&user.ID, &user.Username)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %q: %w", username, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("query user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
