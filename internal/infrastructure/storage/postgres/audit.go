package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	appctx "lotpool/internal/core/context"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/accumulation"
)

// CompressionAlgo specifies how Changes is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

const defaultCompressThreshold = 10 * 1024

// AuditEntry is one row of sys_audit.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	EntityType        string          `db:"entity_type"`
	EntityID          string          `db:"entity_id"`
	Action            string          `db:"action"`
	UserID            string          `db:"user_id"`
	Changes           json.RawMessage `db:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	CreatedAt         time.Time       `db:"created_at"`
}

const auditEntityPayment = "Payment"

var (
	_ accumulation.AnomalyRecorder = (*AuditService)(nil)
	_ accumulation.AnomalyReader   = (*AuditService)(nil)
)

// AuditService records anomalies and other audit entries. Large change sets
// are zstd compressed.
type AuditService struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewAuditService creates a new audit service.
func NewAuditService(txManager *TxManager) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &AuditService{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: defaultCompressThreshold,
	}, nil
}

// Close releases the zstd encoder and decoder.
func (s *AuditService) Close() {
	_ = s.encoder.Close()
	s.decoder.Close()
}

// Log records an audit entry.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	if entry.UserID == "" {
		entry.UserID = appctx.GetUserID(ctx)
	}
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo = s.compress(entry.Changes)

	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_audit (
			id, entity_type, entity_id, action, user_id,
			changes, changes_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.UserID,
		entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *AuditService) compress(changes json.RawMessage) (json.RawMessage, []byte, CompressionAlgo) {
	if len(changes) <= s.compressThreshold {
		return changes, nil, CompressionNone
	}
	return nil, s.encoder.EncodeAll(changes, nil), CompressionZstd
}

// RecordAnomaly stores a contribution that could not be applied, keyed by
// its payment id so refunds can be reconciled.
func (s *AuditService) RecordAnomaly(ctx context.Context, a accumulation.Anomaly) error {
	raw, err := json.Marshal(a.Details())
	if err != nil {
		return fmt.Errorf("marshal anomaly: %w", err)
	}
	return s.Log(ctx, AuditEntry{
		EntityType: auditEntityPayment,
		EntityID:   a.Contribution.PaymentID,
		Action:     a.Kind,
		Changes:    raw,
	})
}

// ListAnomalies implements accumulation.AnomalyReader.
func (s *AuditService) ListAnomalies(ctx context.Context, paymentID string) ([]accumulation.AnomalyEntry, error) {
	history, err := s.GetEntityHistory(ctx, auditEntityPayment, paymentID, 50)
	if err != nil {
		return nil, err
	}
	out := make([]accumulation.AnomalyEntry, 0, len(history))
	for _, e := range history {
		entry := accumulation.AnomalyEntry{
			Kind:       e.Action,
			PaymentID:  e.EntityID,
			RecordedAt: e.CreatedAt,
		}
		if len(e.Changes) > 0 {
			if err := json.Unmarshal(e.Changes, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode audit %s: %w", e.ID, err)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// GetEntityHistory retrieves audit history for an entity, newest first.
func (s *AuditService) GetEntityHistory(ctx context.Context, entityType, entityID string, limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := pgxscan.Select(ctx, s.txManager.GetQuerier(ctx), &entries, `
		SELECT id, entity_type, entity_id, action, user_id,
		       changes, changes_compressed, compression_algo, created_at
		FROM sys_audit
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	for i := range entries {
		if err := s.decompress(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *AuditService) decompress(e *AuditEntry) error {
	if e.CompressionAlgo != CompressionZstd || len(e.ChangesCompressed) == 0 {
		return nil
	}
	decompressed, err := s.decoder.DecodeAll(e.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress changes: %w", err)
	}
	e.Changes = decompressed
	e.ChangesCompressed = nil
	return nil
}
