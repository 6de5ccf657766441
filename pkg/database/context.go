package database

import "context"

type contextKey string

// ProjectScopeKey is the context key for the project-scoped database connection.
const ProjectScopeKey contextKey = "projectScope"

// GetProjectScope retrieves the project-scoped database connection from context.
// Returns nil and false if not present.
func GetProjectScope(ctx context.Context) (*ProjectScope, bool) {
	scope, ok := ctx.Value(ProjectScopeKey).(*ProjectScope)
	return scope, ok
}

// SetProjectScope stores the project-scoped database connection in context.
func SetProjectScope(ctx context.Context, scope *ProjectScope) context.Context {
	return context.WithValue(ctx, ProjectScopeKey, scope)
}
