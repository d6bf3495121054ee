package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertProject inserts or refreshes a project row.
func (s *Store) UpsertProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (gizmo_id, gizmo_type, display_name)
		VALUES (?, ?, ?)
		ON CONFLICT(gizmo_id) DO UPDATE SET
			gizmo_type = excluded.gizmo_type,
			display_name = CASE WHEN excluded.display_name != ''
				THEN excluded.display_name ELSE projects.display_name END
	`, p.GizmoID, p.GizmoType, p.DisplayName)
	if err != nil {
		return fmt.Errorf("upsert project %q: %w", p.GizmoID, err)
	}
	return nil
}

// GetProject fetches one project by gizmo id.
func (s *Store) GetProject(ctx context.Context, gizmoID string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT gizmo_id, gizmo_type, display_name FROM projects WHERE gizmo_id = ?", gizmoID)

	var p Project
	err := row.Scan(&p.GizmoID, &p.GizmoType, &p.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", gizmoID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %q: %w", gizmoID, err)
	}
	return &p, nil
}

// ListProjects returns all projects with their conversation counts.
func (s *Store) ListProjects(ctx context.Context) ([]ProjectWithCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.gizmo_id, p.gizmo_type, p.display_name,
		       (SELECT count(*) FROM conversations c WHERE c.gizmo_id = p.gizmo_id)
		FROM projects p
		ORDER BY p.display_name, p.gizmo_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var result []ProjectWithCount
	for rows.Next() {
		var p ProjectWithCount
		if err := rows.Scan(&p.GizmoID, &p.GizmoType, &p.DisplayName, &p.ConversationCount); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
