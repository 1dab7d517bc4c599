package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
)

// SQLiteStore implements the persistent client store on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// NewSQLiteStore creates a SQLite-backed client store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS envelopes (
        store TEXT NOT NULL,
        key TEXT NOT NULL,
        user_id TEXT NOT NULL,
        org_id TEXT NOT NULL,
        super_admin INTEGER NOT NULL DEFAULT 0,
        payload TEXT NOT NULL,
        parent_key TEXT NOT NULL DEFAULT '',
        sync_state TEXT NOT NULL DEFAULT '',
        cached_at TIMESTAMP NOT NULL,
        PRIMARY KEY (store, key)
    );

    CREATE INDEX IF NOT EXISTS idx_envelopes_scope ON envelopes(store, user_id, org_id, super_admin);
    CREATE INDEX IF NOT EXISTS idx_envelopes_parent ON envelopes(parent_key);
    CREATE INDEX IF NOT EXISTS idx_envelopes_sync ON envelopes(store, sync_state);

    CREATE TABLE IF NOT EXISTS queue_ops (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        type TEXT NOT NULL,
        endpoint TEXT NOT NULL,
        method TEXT NOT NULL,
        data TEXT NOT NULL,
        temp_id TEXT NOT NULL DEFAULT '',
        user_id TEXT NOT NULL,
        org_id TEXT NOT NULL,
        super_admin INTEGER NOT NULL DEFAULT 0,
        priority INTEGER NOT NULL DEFAULT 0,
        created_at TIMESTAMP NOT NULL,
        status TEXT NOT NULL DEFAULT 'pending',
        retry_count INTEGER NOT NULL DEFAULT 0,
        last_error TEXT NOT NULL DEFAULT ''
    );

    CREATE INDEX IF NOT EXISTS idx_queue_drain ON queue_ops(status, priority DESC, created_at ASC);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Get retrieves one envelope for the caller's scope.
func (s *SQLiteStore) Get(store models.StoreName, key string, scope models.Scope) (*models.Envelope, error) {
	row := s.db.QueryRow(`
        SELECT store, key, user_id, org_id, super_admin, payload, parent_key, sync_state, cached_at
        FROM envelopes
        WHERE store = ? AND key = ? AND user_id = ? AND org_id = ? AND super_admin = ?
    `, string(store), key, scope.UserID, scope.OrgID, boolInt(scope.SuperAdmin))

	env, err := scanEnvelope(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrEnvelopeNotFound
	}
	if err != nil {
		return nil, &models.StoreError{Op: "get", Store: store, Err: err}
	}
	return env, nil
}

// GetAll returns every envelope of a store visible to the scope.
func (s *SQLiteStore) GetAll(store models.StoreName, scope models.Scope) ([]*models.Envelope, error) {
	rows, err := s.db.Query(`
        SELECT store, key, user_id, org_id, super_admin, payload, parent_key, sync_state, cached_at
        FROM envelopes
        WHERE store = ? AND user_id = ? AND org_id = ? AND super_admin = ?
        ORDER BY key
    `, string(store), scope.UserID, scope.OrgID, boolInt(scope.SuperAdmin))
	if err != nil {
		return nil, &models.StoreError{Op: "get_all", Store: store, Err: err}
	}
	defer rows.Close()

	return collectEnvelopes(rows, store)
}

// Put inserts or fully replaces an envelope.
func (s *SQLiteStore) Put(env *models.Envelope) error {
	if env.CachedAt.IsZero() {
		env.CachedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
        INSERT INTO envelopes (store, key, user_id, org_id, super_admin, payload, parent_key, sync_state, cached_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(store, key) DO UPDATE SET
            user_id = excluded.user_id,
            org_id = excluded.org_id,
            super_admin = excluded.super_admin,
            payload = excluded.payload,
            parent_key = excluded.parent_key,
            sync_state = excluded.sync_state,
            cached_at = excluded.cached_at
    `, string(env.Store), env.Key, env.Scope.UserID, env.Scope.OrgID, boolInt(env.Scope.SuperAdmin),
		string(env.Payload), env.ParentKey, string(env.SyncState), env.CachedAt)

	if err != nil {
		return &models.StoreError{Op: "put", Store: env.Store, Err: err}
	}
	return nil
}

// Delete removes one envelope.
func (s *SQLiteStore) Delete(store models.StoreName, key string, scope models.Scope) error {
	_, err := s.db.Exec(`
        DELETE FROM envelopes
        WHERE store = ? AND key = ? AND user_id = ? AND org_id = ? AND super_admin = ?
    `, string(store), key, scope.UserID, scope.OrgID, boolInt(scope.SuperAdmin))
	if err != nil {
		return &models.StoreError{Op: "delete", Store: store, Err: err}
	}
	return nil
}

// Rekey migrates an envelope to its server-assigned key in a single
// transaction: the envelope row moves, its payload and every dependent
// envelope or queued operation referencing the old key are patched.
func (s *SQLiteStore) Rekey(store models.StoreName, oldKey, newKey string) error {
	s.logger.WithFields(map[string]interface{}{
		"store":   store,
		"old_key": oldKey,
		"new_key": newKey,
	}).Debug("Rekeying envelope")

	tx, err := s.db.Begin()
	if err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	// A fetch may already have cached the record under its server key;
	// the migrated local row wins (it is at least as new).
	if _, err := tx.Exec(`DELETE FROM envelopes WHERE store = ? AND key = ?`, string(store), newKey); err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}

	// Patch the record's own payload before moving the row.
	var payload string
	err = tx.QueryRow(`SELECT payload FROM envelopes WHERE store = ? AND key = ?`, string(store), oldKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return models.ErrEnvelopeNotFound
	}
	if err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}

	patched, _, err := rewriteRefs([]byte(payload), oldKey, newKey)
	if err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}

	res, err := tx.Exec(`
        UPDATE envelopes SET key = ?, payload = ?, sync_state = ''
        WHERE store = ? AND key = ?
    `, newKey, string(patched), string(store), oldKey)
	if err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrEnvelopeNotFound
	}

	// Dependent envelopes in any store: parent pointer plus payload refs.
	childRows, err := tx.Query(`SELECT store, key, payload FROM envelopes WHERE parent_key = ?`, oldKey)
	if err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}

	type childRef struct {
		store, key, payload string
	}
	var children []childRef
	for childRows.Next() {
		var c childRef
		if err := childRows.Scan(&c.store, &c.key, &c.payload); err != nil {
			childRows.Close()
			return &models.StoreError{Op: "rekey", Store: store, Err: err}
		}
		children = append(children, c)
	}
	childRows.Close()
	if err := childRows.Err(); err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}

	for _, c := range children {
		data, _, err := rewriteRefs([]byte(c.payload), oldKey, newKey)
		if err != nil {
			return &models.StoreError{Op: "rekey", Store: models.StoreName(c.store), Err: err}
		}
		if _, err := tx.Exec(`
            UPDATE envelopes SET parent_key = ?, payload = ?
            WHERE store = ? AND key = ?
        `, newKey, string(data), c.store, c.key); err != nil {
			return &models.StoreError{Op: "rekey", Store: models.StoreName(c.store), Err: err}
		}
	}

	// Queued operations still carrying the temporary identifier.
	opRows, err := tx.Query(`
        SELECT id, data, temp_id FROM queue_ops
        WHERE temp_id = ? OR data LIKE ?
    `, oldKey, "%"+oldKey+"%")
	if err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}

	type opRef struct {
		id     int64
		data   string
		tempID string
	}
	var ops []opRef
	for opRows.Next() {
		var o opRef
		if err := opRows.Scan(&o.id, &o.data, &o.tempID); err != nil {
			opRows.Close()
			return &models.StoreError{Op: "rekey", Store: store, Err: err}
		}
		ops = append(ops, o)
	}
	opRows.Close()
	if err := opRows.Err(); err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}

	for _, o := range ops {
		data, _, err := rewriteRefs([]byte(o.data), oldKey, newKey)
		if err != nil {
			return &models.StoreError{Op: "rekey", Store: store, Err: err}
		}
		tempID := o.tempID
		if tempID == oldKey {
			tempID = newKey
		}
		if _, err := tx.Exec(`UPDATE queue_ops SET data = ?, temp_id = ? WHERE id = ?`,
			string(data), tempID, o.id); err != nil {
			return &models.StoreError{Op: "rekey", Store: store, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}
	return nil
}

// IsStale reports whether the newest entry for the scope is older than
// maxAge. An empty store is stale.
func (s *SQLiteStore) IsStale(store models.StoreName, scope models.Scope, maxAge time.Duration) (bool, error) {
	var newest sql.NullTime
	err := s.db.QueryRow(`
        SELECT MAX(cached_at) FROM envelopes
        WHERE store = ? AND user_id = ? AND org_id = ? AND super_admin = ?
    `, string(store), scope.UserID, scope.OrgID, boolInt(scope.SuperAdmin)).Scan(&newest)
	if err != nil {
		return true, &models.StoreError{Op: "is_stale", Store: store, Err: err}
	}

	if !newest.Valid {
		return true, nil
	}
	return time.Since(newest.Time) > maxAge, nil
}

// ListLocal returns unsynced local envelopes, oldest first.
func (s *SQLiteStore) ListLocal(store models.StoreName, scope models.Scope) ([]*models.Envelope, error) {
	rows, err := s.db.Query(`
        SELECT store, key, user_id, org_id, super_admin, payload, parent_key, sync_state, cached_at
        FROM envelopes
        WHERE store = ? AND sync_state != '' AND user_id = ? AND org_id = ? AND super_admin = ?
        ORDER BY cached_at ASC
    `, string(store), scope.UserID, scope.OrgID, boolInt(scope.SuperAdmin))
	if err != nil {
		return nil, &models.StoreError{Op: "list_local", Store: store, Err: err}
	}
	defer rows.Close()

	return collectEnvelopes(rows, store)
}

// ListChildren returns envelopes referencing parentKey.
func (s *SQLiteStore) ListChildren(store models.StoreName, parentKey string) ([]*models.Envelope, error) {
	rows, err := s.db.Query(`
        SELECT store, key, user_id, org_id, super_admin, payload, parent_key, sync_state, cached_at
        FROM envelopes
        WHERE store = ? AND parent_key = ?
        ORDER BY cached_at ASC
    `, string(store), parentKey)
	if err != nil {
		return nil, &models.StoreError{Op: "list_children", Store: store, Err: err}
	}
	defer rows.Close()

	return collectEnvelopes(rows, store)
}

// SetSyncState updates the sync state of a local envelope.
func (s *SQLiteStore) SetSyncState(store models.StoreName, key string, state models.SyncState) error {
	res, err := s.db.Exec(`UPDATE envelopes SET sync_state = ? WHERE store = ? AND key = ?`,
		string(state), string(store), key)
	if err != nil {
		return &models.StoreError{Op: "set_sync_state", Store: store, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrEnvelopeNotFound
	}
	return nil
}

// EnqueueOp persists a queue operation.
func (s *SQLiteStore) EnqueueOp(op *models.Operation) (int64, error) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}
	if op.Status == "" {
		op.Status = models.OpPending
	}

	res, err := s.db.Exec(`
        INSERT INTO queue_ops (type, endpoint, method, data, temp_id, user_id, org_id, super_admin, priority, created_at, status, retry_count, last_error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, string(op.Type), op.Endpoint, op.Method, string(op.Data), op.TempID,
		op.Scope.UserID, op.Scope.OrgID, boolInt(op.Scope.SuperAdmin),
		op.Priority, op.Timestamp, string(op.Status), op.RetryCount, op.LastError)
	if err != nil {
		return 0, &models.StoreError{Op: "enqueue", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, &models.StoreError{Op: "enqueue", Err: err}
	}
	op.ID = id
	return id, nil
}

// GetOp retrieves one operation.
func (s *SQLiteStore) GetOp(id int64) (*models.Operation, error) {
	row := s.db.QueryRow(`
        SELECT id, type, endpoint, method, data, temp_id, user_id, org_id, super_admin, priority, created_at, status, retry_count, last_error
        FROM queue_ops WHERE id = ?
    `, id)

	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrOpNotFound
	}
	if err != nil {
		return nil, &models.StoreError{Op: "get_op", Err: err}
	}
	return op, nil
}

// ListOps returns operations in drain order.
func (s *SQLiteStore) ListOps(scope models.Scope, statuses ...models.OpStatus) ([]*models.Operation, error) {
	query := `
        SELECT id, type, endpoint, method, data, temp_id, user_id, org_id, super_admin, priority, created_at, status, retry_count, last_error
        FROM queue_ops`

	var clauses []string
	var args []interface{}

	if !scope.IsZero() {
		clauses = append(clauses, "user_id = ? AND org_id = ? AND super_admin = ?")
		args = append(args, scope.UserID, scope.OrgID, boolInt(scope.SuperAdmin))
	}
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &models.StoreError{Op: "list_ops", Err: err}
	}
	defer rows.Close()

	var ops []*models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, &models.StoreError{Op: "list_ops", Err: err}
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// UpdateOp rewrites an operation row.
func (s *SQLiteStore) UpdateOp(op *models.Operation) error {
	res, err := s.db.Exec(`
        UPDATE queue_ops
        SET type = ?, endpoint = ?, method = ?, data = ?, temp_id = ?, priority = ?, status = ?, retry_count = ?, last_error = ?
        WHERE id = ?
    `, string(op.Type), op.Endpoint, op.Method, string(op.Data), op.TempID,
		op.Priority, string(op.Status), op.RetryCount, op.LastError, op.ID)
	if err != nil {
		return &models.StoreError{Op: "update_op", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrOpNotFound
	}
	return nil
}

// DeleteOp removes an operation.
func (s *SQLiteStore) DeleteOp(id int64) error {
	_, err := s.db.Exec(`DELETE FROM queue_ops WHERE id = ?`, id)
	if err != nil {
		return &models.StoreError{Op: "delete_op", Err: err}
	}
	return nil
}

// CountOps summarizes the queue by status.
func (s *SQLiteStore) CountOps(scope models.Scope) (models.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM queue_ops`
	var args []interface{}
	if !scope.IsZero() {
		query += ` WHERE user_id = ? AND org_id = ? AND super_admin = ?`
		args = append(args, scope.UserID, scope.OrgID, boolInt(scope.SuperAdmin))
	}
	query += ` GROUP BY status`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return models.QueueStats{}, &models.StoreError{Op: "count_ops", Err: err}
	}
	defer rows.Close()

	var stats models.QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, &models.StoreError{Op: "count_ops", Err: err}
		}
		switch models.OpStatus(status) {
		case models.OpPending:
			stats.Pending = count
		case models.OpSyncing:
			stats.Syncing = count
		case models.OpFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Row scanning helpers.

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEnvelope(row rowScanner) (*models.Envelope, error) {
	var env models.Envelope
	var store, payload, syncState string
	var superAdmin int

	err := row.Scan(&store, &env.Key, &env.Scope.UserID, &env.Scope.OrgID, &superAdmin,
		&payload, &env.ParentKey, &syncState, &env.CachedAt)
	if err != nil {
		return nil, err
	}

	env.Store = models.StoreName(store)
	env.Scope.SuperAdmin = superAdmin != 0
	env.Payload = []byte(payload)
	env.SyncState = models.SyncState(syncState)
	return &env, nil
}

func scanOperation(row rowScanner) (*models.Operation, error) {
	var op models.Operation
	var opType, data, status string
	var superAdmin int

	err := row.Scan(&op.ID, &opType, &op.Endpoint, &op.Method, &data, &op.TempID,
		&op.Scope.UserID, &op.Scope.OrgID, &superAdmin,
		&op.Priority, &op.Timestamp, &status, &op.RetryCount, &op.LastError)
	if err != nil {
		return nil, err
	}

	op.Type = models.OpType(opType)
	op.Scope.SuperAdmin = superAdmin != 0
	op.Data = []byte(data)
	op.Status = models.OpStatus(status)
	return &op, nil
}

func collectEnvelopes(rows *sql.Rows, store models.StoreName) ([]*models.Envelope, error) {
	var envs []*models.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, &models.StoreError{Op: "scan", Store: store, Err: err}
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
