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

// CreateRole stores a persona for an existing user and returns its id.
func (s *Service) CreateRole(ctx context.Context, tx *storage.Tx, userID int64, name, description string) (int64, error) {
	if err := requireID("user_id", userID); err != nil {
		return 0, err
	}
	if err := requireText("name", name); err != nil {
		return 0, err
	}
	name = strings.TrimSpace(name)

	var roleID int64
	err := s.write(ctx, tx, "create_role", func(tx *storage.Tx) error {
		if err := requireRow(ctx, tx, "user", "users", "user_id", userID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO roles (user_id, name, description) VALUES (?, ?, ?)`,
			userID, name, description,
		)
		if err != nil {
			return fmt.Errorf("create role: %w", err)
		}
		if roleID, err = insertedID(res, "role"); err != nil {
			return err
		}
		_, err = s.insertLog(ctx, tx, ActionRoleCreated,
			fmt.Sprintf("User ID: %d, Role ID: %d, Name: %s", userID, roleID, name))
		return err
	})
	if err != nil {
		return 0, err
	}
	return roleID, nil
}

// GetRolesByUser lists the personas owned by a user.
func (s *Service) GetRolesByUser(ctx context.Context, tx *storage.Tx, userID int64) ([]models.Role, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	var roles []models.Role
	err := s.read(ctx, tx, "get_roles_by_user", func(tx *storage.Tx) error {
		roles = roles[:0]
		rows, err := tx.QueryContext(ctx,
			`SELECT role_id, user_id, name, COALESCE(description, '') FROM roles WHERE user_id = ?`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("list roles: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var r models.Role
			if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.Description); err != nil {
				return fmt.Errorf("scan role: %w", err)
			}
			roles = append(roles, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRoleByID returns one persona or an error wrapping storage.ErrNotFound.
func (s *Service) GetRoleByID(ctx context.Context, tx *storage.Tx, roleID int64) (*models.Role, error) {
	if err := requireID("role_id", roleID); err != nil {
		return nil, err
	}
	var role models.Role
	err := s.read(ctx, tx, "get_role_by_id", func(tx *storage.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT role_id, user_id, name, COALESCE(description, '') FROM roles WHERE role_id = ?`,
			roleID,
		).Scan(&role.ID, &role.UserID, &role.Name, &role.Description)
		if errors.Is(err, sql.ErrNoRows) {
			return &storage.ReferenceError{Entity: "role", ID: roleID}
		}
		if err != nil {
			return fmt.Errorf("get role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// AssignRoleToConversation sets the persona of an existing conversation.
func (s *Service) AssignRoleToConversation(ctx context.Context, tx *storage.Tx, conversationID, roleID int64) error {
	if err := requireID("conversation_id", conversationID); err != nil {
		return err
	}
	if err := requireID("role_id", roleID); err != nil {
		return err
	}
	return s.write(ctx, tx, "assign_role_to_conversation", func(tx *storage.Tx) error {
		if err := requireRow(ctx, tx, "conversation", "conversations", "conversation_id", conversationID); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "role", "roles", "role_id", roleID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET role_id = ? WHERE conversation_id = ?`,
			roleID, conversationID,
		)
		if err != nil {
			return fmt.Errorf("assign role: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("conversation rows affected: %w", err)
		}
		if affected == 0 {
			return &storage.ReferenceError{Entity: "conversation", ID: conversationID}
		}
		_, err = s.insertLog(ctx, tx, ActionRoleAssigned,
			fmt.Sprintf("Conversation ID: %d, Role ID: %d", conversationID, roleID))
		return err
	})
}
