package dbexec

import (
	"context"
	"database/sql"
	"fmt"

	"flatfetch/internal/sqlutil"
)

type roleKey struct{}

// WithRole returns a context whose queries run under the database role.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFromContext returns the role set by WithRole.
func RoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleKey{}).(string)
	return role, ok && role != ""
}

// RoleExecutor runs each statement on a dedicated connection after
// switching to a database role, so that lookups only see what the role is
// granted.
type RoleExecutor struct {
	db           *sql.DB
	databaseName string
	defaultRole  string
	allowedRoles map[string]struct{}
}

// RoleExecutorConfig controls role execution.
type RoleExecutorConfig struct {
	DB           *sql.DB
	DatabaseName string
	// DefaultRole applies when the context carries no role.
	DefaultRole string
	// AllowedRoles restricts the roles that may be activated. Empty allows
	// any role.
	AllowedRoles []string
}

// NewRoleExecutor creates an executor that applies SET ROLE before each
// statement.
func NewRoleExecutor(cfg RoleExecutorConfig) *RoleExecutor {
	var allowed map[string]struct{}
	if len(cfg.AllowedRoles) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedRoles))
		for _, role := range cfg.AllowedRoles {
			allowed[role] = struct{}{}
		}
	}
	return &RoleExecutor{
		db:           cfg.DB,
		databaseName: cfg.DatabaseName,
		defaultRole:  cfg.DefaultRole,
		allowedRoles: allowed,
	}
}

func (e *RoleExecutor) roleFor(ctx context.Context) (string, error) {
	role, ok := RoleFromContext(ctx)
	if !ok {
		role = e.defaultRole
	}
	if role == "" {
		return "", nil
	}
	if e.allowedRoles != nil {
		if _, allowed := e.allowedRoles[role]; !allowed {
			return "", fmt.Errorf("role not allowed: %s", role)
		}
	}
	return role, nil
}

// prepare acquires a connection with the role and database applied. The
// returned release resets the role and gives the connection back.
func (e *RoleExecutor) prepare(ctx context.Context) (*sql.Conn, func(), error) {
	if e.db == nil {
		return nil, nil, sql.ErrConnDone
	}
	role, err := e.roleFor(ctx)
	if err != nil {
		return nil, nil, err
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	release := func() {
		_, _ = conn.ExecContext(context.Background(), "SET ROLE DEFAULT")
		_ = conn.Close()
	}

	if role != "" {
		// SET ROLE takes no placeholders; the role passed the allowlist above.
		if _, err := conn.ExecContext(ctx, "SET ROLE "+sqlutil.QuoteIdentifier(role)); err != nil {
			release()
			return nil, nil, fmt.Errorf("failed to set role %s: %w", role, err)
		}
	}
	if e.databaseName != "" {
		if _, err := conn.ExecContext(ctx, "USE "+sqlutil.QuoteIdentifier(e.databaseName)); err != nil {
			release()
			return nil, nil, fmt.Errorf("failed to select database %s: %w", e.databaseName, err)
		}
	}
	return conn, release, nil
}

func (e *RoleExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	conn, release, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		release()
		return nil, err
	}
	return &roleAwareRows{Rows: rows, release: release}, nil
}

func (e *RoleExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, release, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return conn.ExecContext(ctx, query, args...)
}

type roleAwareRows struct {
	*sql.Rows
	release func()
}

func (r *roleAwareRows) Close() error {
	defer r.release()
	return r.Rows.Close()
}
