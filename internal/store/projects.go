package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrInvalidProject indicates project parameters that fail validation.
var ErrInvalidProject = errors.New("invalid project")

// Project groups related chats under a named category.
type Project struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"userId"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	CustomCategory string    `json:"customCategory,omitempty"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ProjectParams carries the writable project fields.
type ProjectParams struct {
	Name           string
	Category       string
	CustomCategory string
	Description    string
}

var projectCategories = map[string]bool{
	"investing": true,
	"homework":  true,
	"writing":   true,
	"health":    true,
	"travel":    true,
	"creative":  true,
	"work":      true,
	"analytics": true,
	"custom":    true,
}

// normalize validates and cleans the parameters in place.
func (p *ProjectParams) normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProject)
	}
	p.Category = strings.ToLower(strings.TrimSpace(p.Category))
	if p.Category == "" {
		p.Category = "custom"
	}
	if !projectCategories[p.Category] {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidProject, p.Category)
	}
	if p.Category == "custom" {
		p.CustomCategory = strings.TrimSpace(p.CustomCategory)
	} else {
		p.CustomCategory = ""
	}
	p.Description = strings.TrimSpace(p.Description)
	return nil
}

const projectCols = `id, user_id, name, category, custom_category, description, created_at, updated_at`

// CreateProject stores a new project for the user.
func (s *Store) CreateProject(ctx context.Context, userID string, params ProjectParams) (*Project, error) {
	if err := params.normalize(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &Project{
		ID:             uuid.New(),
		UserID:         userID,
		Name:           params.Name,
		Category:       params.Category,
		CustomCategory: params.CustomCategory,
		Description:    params.Description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO projects (id, user_id, name, category, custom_category, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.UserID, p.Name, p.Category, p.CustomCategory, p.Description, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting project: %w", err)
	}
	s.logger.Info("project created", "project_id", p.ID, "user_id", userID)
	return p, nil
}

// ListProjects returns the user's projects, most recently updated first.
func (s *Store) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+projectCols+`
		 FROM projects WHERE user_id = $1 ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Category, &p.CustomCategory,
			&p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading project rows: %w", err)
	}
	return projects, nil
}

// GetProject fetches one project owned by the user.
func (s *Store) GetProject(ctx context.Context, projectID uuid.UUID, userID string) (*Project, error) {
	var p Project
	err := s.db.QueryRow(ctx,
		`SELECT `+projectCols+`
		 FROM projects WHERE id = $1 AND user_id = $2`,
		projectID, userID).Scan(&p.ID, &p.UserID, &p.Name, &p.Category, &p.CustomCategory,
		&p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching project: %w", err)
	}
	return &p, nil
}

// UpdateProject rewrites the project's writable fields.
func (s *Store) UpdateProject(ctx context.Context, projectID uuid.UUID, userID string, params ProjectParams) error {
	if err := params.normalize(); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE projects
		 SET name = $1, category = $2, custom_category = $3, description = $4, updated_at = now()
		 WHERE id = $5 AND user_id = $6`,
		params.Name, params.Category, params.CustomCategory, params.Description, projectID, userID)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return nil
}

// DeleteProject removes the project. Member chats survive and lose their
// project link via the foreign key.
func (s *Store) DeleteProject(ctx context.Context, projectID uuid.UUID, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM projects WHERE id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return nil
}

// AssignChatToProject links a chat to a project. Both must belong to the
// user; the ownership checks ride in the statement itself.
func (s *Store) AssignChatToProject(ctx context.Context, projectID, chatID uuid.UUID, userID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE chats SET project_id = $1
		 WHERE id = $2 AND user_id = $3
		   AND EXISTS (SELECT 1 FROM projects WHERE id = $1 AND user_id = $3)`,
		projectID, chatID, userID)
	if err != nil {
		return fmt.Errorf("assigning chat to project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s or project %s: %w", chatID, projectID, ErrNotFound)
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE projects SET updated_at = now() WHERE id = $1`, projectID); err != nil {
		return fmt.Errorf("touching project: %w", err)
	}
	return nil
}

// RemoveChatFromProject unlinks a chat from the project.
func (s *Store) RemoveChatFromProject(ctx context.Context, projectID, chatID uuid.UUID, userID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE chats SET project_id = NULL
		 WHERE id = $1 AND user_id = $2 AND project_id = $3`,
		chatID, userID, projectID)
	if err != nil {
		return fmt.Errorf("removing chat from project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s in project %s: %w", chatID, projectID, ErrNotFound)
	}
	return nil
}

// ProjectChats returns the chats linked to the project, most recently
// updated first.
func (s *Store) ProjectChats(ctx context.Context, projectID uuid.UUID, userID string) ([]Chat, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+chatCols+`
		 FROM chats WHERE project_id = $1 AND user_id = $2 ORDER BY updated_at DESC`,
		projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing project chats: %w", err)
	}
	return scanChats(rows)
}
