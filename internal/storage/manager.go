// Package storage persists connection and digital-asset records in a
// local bbolt database. The pipeline depends only on the Manager's
// connection operations; everything else is management surface.
package storage

import (
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/platform"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = fmt.Errorf("record not found")

// OperationRecorder counts storage operations by name and status.
type OperationRecorder interface {
	RecordStorageOperation(operation, status string)
}

// Manager provides a unified interface for storage operations
type Manager struct {
	db      *BoltDB
	mu      sync.RWMutex
	metrics OperationRecorder
	logger  *zap.SugaredLogger
}

// NewManager creates a new storage manager
func NewManager(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	db, err := NewBoltDB(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// SetMetrics attaches an operation recorder. Must be called before the
// manager is shared across goroutines.
func (m *Manager) SetMetrics(rec OperationRecorder) {
	m.metrics = rec
}

// recordOp reports one storage operation outcome. ErrNotFound is a
// normal answer, not a storage error.
func (m *Manager) recordOp(operation string, err error) {
	if m.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case err == ErrNotFound:
		status = "not_found"
	default:
		status = "error"
	}
	m.metrics.RecordStorageOperation(operation, status)
}

// Close closes the storage manager
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// NewID returns a new ULID suitable for record ids.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Connection operations

// GetConnection returns the connection with the given id, or
// ErrNotFound.
func (m *Manager) GetConnection(id string) (*ConnectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var record *ConnectionRecord
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ConnectionsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		record = &ConnectionRecord{}
		return record.UnmarshalBinary(data)
	})
	m.recordOp("get_connection", err)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetConnectionByPlatform returns the live (non-revoked) connection for
// the given platform and campaigner, scoped to an active digital asset.
// customerID further narrows the lookup when non-empty. Returns
// ErrNotFound when no live connection exists.
func (m *Manager) GetConnectionByPlatform(p platform.Platform, campaignerID, customerID string) (*ConnectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assetIDs := make(map[string]bool)
	var record *ConnectionRecord

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		assets := tx.Bucket([]byte(DigitalAssetsBucket))
		if err := assets.ForEach(func(_, v []byte) error {
			var asset DigitalAssetRecord
			if err := asset.UnmarshalBinary(v); err != nil {
				return err
			}
			if asset.Platform == p && asset.Active {
				assetIDs[asset.ID] = true
			}
			return nil
		}); err != nil {
			return err
		}

		conns := tx.Bucket([]byte(ConnectionsBucket))
		return conns.ForEach(func(_, v []byte) error {
			var conn ConnectionRecord
			if err := conn.UnmarshalBinary(v); err != nil {
				return err
			}
			if conn.Revoked || !assetIDs[conn.DigitalAssetID] {
				return nil
			}
			if conn.CampaignerID != campaignerID {
				return nil
			}
			if customerID != "" && conn.CustomerID != customerID {
				return nil
			}
			record = &conn
			return nil
		})
	})
	if err != nil {
		m.recordOp("get_connection_by_platform", err)
		return nil, err
	}
	if record == nil {
		m.recordOp("get_connection_by_platform", ErrNotFound)
		return nil, ErrNotFound
	}
	m.recordOp("get_connection_by_platform", nil)
	return record, nil
}

// SaveConnection stores a connection record, assigning an id and
// created timestamp on first save.
func (m *Manager) SaveConnection(record *ConnectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == "" {
		record.ID = NewID()
		record.Created = time.Now().UTC()
	}
	record.Updated = time.Now().UTC()

	data, err := record.MarshalBinary()
	if err != nil {
		m.recordOp("save_connection", err)
		return fmt.Errorf("failed to marshal connection %s: %w", record.ID, err)
	}

	err = m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ConnectionsBucket))
		return bucket.Put([]byte(record.ID), data)
	})
	m.recordOp("save_connection", err)
	return err
}

// UpdateConnection applies fn to the stored record inside a single
// write transaction. This is the read-modify-write primitive the health
// recorder uses so near-simultaneous runs cannot interleave partial
// updates on one record.
func (m *Manager) UpdateConnection(id string, fn func(*ConnectionRecord) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ConnectionsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		var record ConnectionRecord
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}
		if err := fn(&record); err != nil {
			return err
		}
		record.Updated = time.Now().UTC()

		updated, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), updated)
	})
	m.recordOp("update_connection", err)
	return err
}

// ListFailingConnections returns non-revoked connections whose failure
// count is at least minFailures, most failures first. Used by the
// health dashboard and the check command.
func (m *Manager) ListFailingConnections(minFailures int) ([]*ConnectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ConnectionRecord
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ConnectionsBucket))
		return bucket.ForEach(func(_, v []byte) error {
			var conn ConnectionRecord
			if err := conn.UnmarshalBinary(v); err != nil {
				return err
			}
			if !conn.Revoked && conn.FailureCount >= minFailures {
				c := conn
				out = append(out, &c)
			}
			return nil
		})
	})
	m.recordOp("list_failing_connections", err)
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].FailureCount > out[j].FailureCount
	})
	return out, nil
}

// Digital asset operations

// SaveDigitalAsset stores a digital asset record, assigning an id and
// created timestamp on first save.
func (m *Manager) SaveDigitalAsset(record *DigitalAssetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == "" {
		record.ID = NewID()
		record.Created = time.Now().UTC()
	}
	record.Updated = time.Now().UTC()

	data, err := record.MarshalBinary()
	if err != nil {
		m.recordOp("save_digital_asset", err)
		return fmt.Errorf("failed to marshal digital asset %s: %w", record.ID, err)
	}

	err = m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(DigitalAssetsBucket))
		return bucket.Put([]byte(record.ID), data)
	})
	m.recordOp("save_digital_asset", err)
	return err
}

// GetDigitalAsset returns the digital asset with the given id, or
// ErrNotFound.
func (m *Manager) GetDigitalAsset(id string) (*DigitalAssetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var record *DigitalAssetRecord
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(DigitalAssetsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		record = &DigitalAssetRecord{}
		return record.UnmarshalBinary(data)
	})
	m.recordOp("get_digital_asset", err)
	if err != nil {
		return nil, err
	}
	return record, nil
}
