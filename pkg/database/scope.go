package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProjectScope wraps a connection pinned to one project and ensures cleanup.
// The connection has app.current_project_id set for RLS policy evaluation.
type ProjectScope struct {
	Conn *pgxpool.Conn
}

// Close resets the project context and releases the connection to the pool.
// This MUST be called to prevent project context leaking to the next request.
func (s *ProjectScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_project_id")
	s.Conn.Release()
}

// WithProject acquires a connection and sets the project context for RLS.
// The returned ProjectScope MUST be closed with defer scope.Close().
func (db *DB) WithProject(ctx context.Context, projectID uuid.UUID) (*ProjectScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_project_id', $1, false)", projectID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &ProjectScope{Conn: conn}, nil
}
