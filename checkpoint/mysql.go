package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// Registers the mysql driver with database/sql.
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore provides a MySQL-backed implementation of the Store interface.
// Row-level locking in MySQL serializes concurrent saves, so no additional
// write gate is needed; reads run without any engine-side lock.
//
// The DSN must include parseTime=true so DATETIME columns scan into
// time.Time values.
type MySQLStore struct {
	db *sql.DB
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore opens a connection pool against dsn, verifies connectivity
// and creates the checkpoints table if it does not exist.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS checkpoints (
        checkpoint_id VARCHAR(191) PRIMARY KEY,
        execution_id VARCHAR(191) NOT NULL,
        workflow_name VARCHAR(255) NOT NULL,
        current_state_id VARCHAR(255) NOT NULL DEFAULT '',
        native_state MEDIUMBLOB,
        input MEDIUMTEXT,
        context MEDIUMBLOB,
        created_at DATETIME(6) NOT NULL,
        execution_started_at DATETIME(6) NULL,
        metadata TEXT,
        INDEX idx_checkpoint_execution (execution_id),
        INDEX idx_checkpoint_created (created_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing checkpoints table: %w", err)
	}
	return nil
}

// Save persists a checkpoint, replacing any row with the same ID.
func (s *MySQLStore) Save(ctx context.Context, data Data) error {
	if err := data.validate(); err != nil {
		return err
	}

	metadata, err := marshalMetadata(data.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint metadata: %w", err)
	}

	var startedAt any
	if !data.ExecutionStartedAt.IsZero() {
		startedAt = data.ExecutionStartedAt
	}

	const stmt = `INSERT INTO checkpoints
        (checkpoint_id, execution_id, workflow_name, current_state_id, native_state, input, context, created_at, execution_started_at, metadata)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        execution_id = VALUES(execution_id),
        workflow_name = VALUES(workflow_name),
        current_state_id = VALUES(current_state_id),
        native_state = VALUES(native_state),
        input = VALUES(input),
        context = VALUES(context),
        created_at = VALUES(created_at),
        execution_started_at = VALUES(execution_started_at),
        metadata = VALUES(metadata)`

	_, err = s.db.ExecContext(ctx, stmt,
		data.CheckpointID,
		data.ExecutionID,
		data.WorkflowName,
		data.CurrentStateID,
		data.NativeState,
		data.Input,
		[]byte(data.Context),
		data.CreatedAt,
		startedAt,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting checkpoint: %w", err)
	}
	return nil
}

const selectColumns = `checkpoint_id, execution_id, workflow_name, current_state_id, native_state, input, context, created_at, execution_started_at, metadata`

// Get retrieves a checkpoint by ID.
func (s *MySQLStore) Get(ctx context.Context, checkpointID string) (Data, error) {
	if checkpointID == "" {
		return Data{}, ErrInvalidID
	}

	stmt := `SELECT ` + selectColumns + ` FROM checkpoints WHERE checkpoint_id = ?`
	record, err := scanRecord(s.db.QueryRowContext(ctx, stmt, checkpointID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Data{}, ErrNotFound
		}
		return Data{}, err
	}
	return record, nil
}

// GetLatest returns the checkpoint with the maximum CreatedAt for the
// execution.
func (s *MySQLStore) GetLatest(ctx context.Context, executionID string) (Data, error) {
	if executionID == "" {
		return Data{}, ErrInvalidID
	}

	stmt := `SELECT ` + selectColumns + ` FROM checkpoints WHERE execution_id = ? ORDER BY created_at DESC LIMIT 1`
	record, err := scanRecord(s.db.QueryRowContext(ctx, stmt, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Data{}, ErrNotFound
		}
		return Data{}, err
	}
	return record, nil
}

// GetAll returns every checkpoint for the execution, ascending by CreatedAt.
func (s *MySQLStore) GetAll(ctx context.Context, executionID string) ([]Data, error) {
	if executionID == "" {
		return nil, ErrInvalidID
	}

	stmt := `SELECT ` + selectColumns + ` FROM checkpoints WHERE execution_id = ? ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, stmt, executionID)
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}
	defer rows.Close()

	records := []Data{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating checkpoints: %w", err)
	}
	return records, nil
}

// Delete removes a checkpoint by ID.
func (s *MySQLStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	if checkpointID == "" {
		return false, ErrInvalidID
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE checkpoint_id = ?`, checkpointID)
	if err != nil {
		return false, fmt.Errorf("deleting checkpoint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteAll removes every checkpoint for the execution.
func (s *MySQLStore) DeleteAll(ctx context.Context, executionID string) (int, error) {
	if executionID == "" {
		return 0, ErrInvalidID
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE execution_id = ?`, executionID)
	if err != nil {
		return 0, fmt.Errorf("deleting checkpoints: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return int(affected), nil
}

// CleanupOlderThan removes every checkpoint created before cutoff.
func (s *MySQLStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up checkpoints: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return int(affected), nil
}

// Exists reports whether a checkpoint with the given ID is stored.
func (s *MySQLStore) Exists(ctx context.Context, checkpointID string) (bool, error) {
	if checkpointID == "" {
		return false, ErrInvalidID
	}

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM checkpoints WHERE checkpoint_id = ?`, checkpointID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying checkpoint existence: %w", err)
	}
	return true, nil
}

// Close closes the underlying connection pool.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (Data, error) {
	var (
		record      Data
		stateID     string
		input       sql.NullString
		contextBlob []byte
		startedAt   sql.NullTime
		metadata    sql.NullString
	)
	if err := row.Scan(
		&record.CheckpointID,
		&record.ExecutionID,
		&record.WorkflowName,
		&stateID,
		&record.NativeState,
		&input,
		&contextBlob,
		&record.CreatedAt,
		&startedAt,
		&metadata,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Data{}, err
		}
		return Data{}, fmt.Errorf("scanning checkpoint: %w", err)
	}

	record.CurrentStateID = stateID
	if input.Valid {
		record.Input = input.String
	}
	if len(contextBlob) > 0 {
		record.Context = json.RawMessage(contextBlob)
	}
	if startedAt.Valid {
		record.ExecutionStartedAt = startedAt.Time
	}
	if metadata.Valid && strings.TrimSpace(metadata.String) != "" {
		if err := json.Unmarshal([]byte(metadata.String), &record.Metadata); err != nil {
			return Data{}, fmt.Errorf("unmarshaling checkpoint metadata: %w", err)
		}
	}
	return record, nil
}

func marshalMetadata(metadata map[string]string) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}
