// Package store is the durable persistence layer for rooms, participants,
// and snapshots: pgxpool with QueryExecModeSimpleProtocol for PgBouncer
// compatibility, and transactional per-room snapshot versioning.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabhub/backend/internal/herrors"
	"github.com/collabhub/backend/internal/models"
)

// Repository is every persistence operation the core consumes. Every method
// is independently transactional; the core never holds a transaction across
// calls.
type Repository interface {
	FindRoom(ctx context.Context, id string) (*models.Room, error)
	CreateRoom(ctx context.Context, id, name, creatorID string, visibility models.Visibility) (*models.Room, error)
	TouchRoom(ctx context.Context, id string, now time.Time) error
	PatchRoom(ctx context.Context, id string, name *string, visibility *models.Visibility) (*models.Room, error)
	DeleteRoom(ctx context.Context, id string) error

	RecordJoin(ctx context.Context, roomID, userID, clientID, userName, userColor string, role models.Role) (int64, error)
	RecordLeave(ctx context.Context, clientID string, now time.Time) error

	NewestSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error)
	WriteSnapshot(ctx context.Context, roomID string, payload, stateVector []byte) (int64, error)
	PruneSnapshots(ctx context.Context, roomID string, keep int) error
	ListSnapshots(ctx context.Context, roomID string, limit int) ([]models.Snapshot, error)

	Close()
}

// PostgresRepository implements Repository over pgx/v5, backed by three
// tables: rooms, participants, snapshots.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// New connects to storeURL. QueryExecModeSimpleProtocol is forced so the
// pool works unmodified behind a transaction-mode connection pooler such as
// PgBouncer, which does not support prepared statements.
func New(ctx context.Context, storeURL string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(storeURL)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() { r.pool.Close() }

func (r *PostgresRepository) FindRoom(ctx context.Context, id string) (*models.Room, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, creator_id, visibility, created_at, last_active
		FROM rooms WHERE id = $1 AND deleted_at IS NULL`, id)

	var room models.Room
	err := row.Scan(&room.ID, &room.Name, &room.CreatorID, &room.Visibility, &room.CreatedAt, &room.LastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, herrors.Persistence("find_room", err, false)
	}
	return &room, nil
}

func (r *PostgresRepository) CreateRoom(ctx context.Context, id, name, creatorID string, visibility models.Visibility) (*models.Room, error) {
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	now := time.Now()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rooms (id, name, creator_id, visibility, created_at, last_active)
		VALUES ($1, $2, $3, $4, $5, $5)`, id, name, creatorID, visibility, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, herrors.ErrAlreadyExists
		}
		return nil, herrors.Persistence("create_room", err, false)
	}
	return &models.Room{ID: id, Name: name, CreatorID: creatorID, Visibility: visibility, CreatedAt: now, LastActive: now}, nil
}

// TouchRoom updates last_active. No error is returned for a concurrent
// update racing this one — the column is last-writer-wins by design.
func (r *PostgresRepository) TouchRoom(ctx context.Context, id string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE rooms SET last_active = $2 WHERE id = $1`, id, now)
	if err != nil {
		return herrors.Persistence("touch_room", err, false)
	}
	return nil
}

func (r *PostgresRepository) PatchRoom(ctx context.Context, id string, name *string, visibility *models.Visibility) (*models.Room, error) {
	_, err := r.pool.Exec(ctx, `
		UPDATE rooms SET
			name = COALESCE($2, name),
			visibility = COALESCE($3, visibility)
		WHERE id = $1 AND deleted_at IS NULL`, id, name, visibility)
	if err != nil {
		return nil, herrors.Persistence("patch_room", err, false)
	}
	return r.FindRoom(ctx, id)
}

func (r *PostgresRepository) DeleteRoom(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE rooms SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return herrors.Persistence("delete_room", err, false)
	}
	return nil
}

func (r *PostgresRepository) RecordJoin(ctx context.Context, roomID, userID, clientID, userName, userColor string, role models.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO participants (room_id, user_id, client_id, user_name, user_color, role, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id`, roomID, userID, clientID, userName, userColor, role).Scan(&id)
	if err != nil {
		return 0, herrors.Persistence("record_join", err, false)
	}
	return id, nil
}

// RecordLeave is idempotent: a client_id with no open row, or already
// closed, is not an error.
func (r *PostgresRepository) RecordLeave(ctx context.Context, clientID string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE participants SET left_at = $2
		WHERE client_id = $1 AND left_at IS NULL`, clientID, now)
	if err != nil {
		return herrors.Persistence("record_leave", err, false)
	}
	return nil
}

func (r *PostgresRepository) NewestSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, room_id, payload, state_vector, version, created_at
		FROM snapshots WHERE room_id = $1
		ORDER BY version DESC LIMIT 1`, roomID)

	var s models.Snapshot
	err := row.Scan(&s.ID, &s.RoomID, &s.Payload, &s.StateVector, &s.Version, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, herrors.Persistence("newest_snapshot", err, false)
	}
	return &s, nil
}

// WriteSnapshot assigns version = max(existing)+1 atomically per room.
func (r *PostgresRepository) WriteSnapshot(ctx context.Context, roomID string, payload, stateVector []byte) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, herrors.Persistence("write_snapshot begin", err, false)
	}
	defer tx.Rollback(ctx)

	var version int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM snapshots WHERE room_id = $1`, roomID).Scan(&version)
	if err != nil {
		return 0, herrors.Persistence("write_snapshot version", err, false)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO snapshots (room_id, payload, state_vector, version, created_at)
		VALUES ($1, $2, $3, $4, now())`, roomID, payload, stateVector, version)
	if err != nil {
		return 0, herrors.Persistence("write_snapshot insert", err, false)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, herrors.Persistence("write_snapshot commit", err, false)
	}
	return version, nil
}

// PruneSnapshots deletes every row for roomID except the newest keep
// versions.
func (r *PostgresRepository) PruneSnapshots(ctx context.Context, roomID string, keep int) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM snapshots WHERE room_id = $1 AND version NOT IN (
			SELECT version FROM snapshots WHERE room_id = $1
			ORDER BY version DESC LIMIT $2
		)`, roomID, keep)
	if err != nil {
		return herrors.Persistence("prune_snapshots", err, false)
	}
	return nil
}

func (r *PostgresRepository) ListSnapshots(ctx context.Context, roomID string, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_id, version, created_at FROM snapshots
		WHERE room_id = $1 ORDER BY version DESC LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, herrors.Persistence("list_snapshots", err, false)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		var s models.Snapshot
		if err := rows.Scan(&s.ID, &s.RoomID, &s.Version, &s.CreatedAt); err != nil {
			return nil, herrors.Persistence("list_snapshots scan", err, false)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
