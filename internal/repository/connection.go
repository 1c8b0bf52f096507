package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/zapdesk/chatsync-server/internal/model"
)

// ConnectionRepository reads channel connections and applies status updates
// arriving on the provisioning feed. Everything else about connections is
// owned elsewhere.
type ConnectionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Connection, error)
	FindConnectedByTenant(ctx context.Context, tenantID string) (*model.Connection, error)
	ListConnected(ctx context.Context) ([]model.Connection, error)
	UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) error
}

type connectionRepo struct {
	db *sqlx.DB
}

func NewConnectionRepository(db *sqlx.DB) ConnectionRepository {
	return &connectionRepo{db: db}
}

func (r *connectionRepo) FindByID(ctx context.Context, id string) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `SELECT * FROM connections WHERE id = $1`, id)
	return HandleNotFound(&conn, err)
}

func (r *connectionRepo) FindConnectedByTenant(ctx context.Context, tenantID string) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		SELECT * FROM connections
		WHERE tenant_id = $1 AND status = 'connected'
		ORDER BY updated_at DESC
		LIMIT 1
	`, tenantID)
	return HandleNotFound(&conn, err)
}

func (r *connectionRepo) ListConnected(ctx context.Context) ([]model.Connection, error) {
	var conns []model.Connection
	err := r.db.SelectContext(ctx, &conns, `
		SELECT * FROM connections WHERE status = 'connected'
	`)
	return conns, wrapStorage(err)
}

func (r *connectionRepo) UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE connections SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return wrapStorage(err)
}
