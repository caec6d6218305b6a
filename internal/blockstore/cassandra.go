package blockstore

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/chain"
)

// Schema creates the block table. Rows are only ever inserted.
const Schema = `CREATE TABLE IF NOT EXISTS block_chain (
    id text PRIMARY KEY,
    app_id text,
    region text,
    chain_stamp_id text,
    entry_ids list<text>,
    created_at timestamp
)`

const insertBlock = `INSERT INTO block_chain (id, app_id, region, chain_stamp_id, entry_ids, created_at)
    VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`

// CassandraStore appends blocks to a Cassandra table with lightweight transactions.
type CassandraStore struct {
	session *gocql.Session
}

// NewCassandraStore wraps an open session.
func NewCassandraStore(session *gocql.Session) *CassandraStore {
	return &CassandraStore{session: session}
}

// EnsureSchema creates the block table when missing.
func (s *CassandraStore) EnsureSchema(ctx context.Context) error {
	if err := s.session.Query(Schema).WithContext(ctx).Exec(); err != nil {
		return apperrors.ServerError("create block table: %v", err)
	}
	return nil
}

func (s *CassandraStore) Write(ctx context.Context, b chain.Block) error {
	existing := map[string]interface{}{}
	applied, err := s.session.Query(insertBlock,
		b.ID, b.AppID, string(b.Region), b.ChainStampID, b.EntryIDs, b.CreatedAt,
	).WithContext(ctx).
		Consistency(gocql.Quorum).
		SerialConsistency(gocql.LocalSerial).
		MapScanCAS(existing)
	if err != nil {
		return apperrors.ServerError("insert block %s: %v", b.ID, err)
	}
	if !applied {
		return checkReplay(existing, b)
	}
	return nil
}

// checkReplay accepts a rejected insert when the stored row is the same block.
func checkReplay(existing map[string]interface{}, b chain.Block) error {
	if fmt.Sprint(existing["chain_stamp_id"]) != b.ChainStampID {
		return apperrors.InvalidRecordState("block %s already stored with a different chain stamp", b.ID)
	}
	return nil
}

// Close ends the session.
func (s *CassandraStore) Close() {
	s.session.Close()
}
