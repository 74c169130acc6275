// Package store persists agent state in a tm-db key value store.
package store

import (
	"encoding/json"

	"github.com/google/orderedcode"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	dbm "github.com/tendermint/tm-db"

	"github.com/supragya/NomadConnector/types"
)

const (
	prefixStatus   = "status"
	prefixProduced = "produced"
	prefixObserved = "observed"
	prefixCursor   = "cursor"
	prefixFraud    = "fraud"

	byPrevious = "prev"
	byIndex    = "index"

	recordCacheSize = 4096
)

// OpenDB opens the named database. Backend is a tm-db backend such as goleveldb or memdb.
func OpenDB(name, backend, dir string) (dbm.DB, error) {
	db, err := dbm.NewDB(name, dbm.BackendType(backend), dir)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database in %s", backend, dir)
	}
	return db, nil
}

type recordKey struct {
	replica uint32
	index   uint32
}

// Store is safe for concurrent use.
type Store struct {
	db      dbm.DB
	records *lru.TwoQueueCache
}

func New(db dbm.DB) (*Store, error) {
	records, err := lru.New2Q(recordCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, records: records}, nil
}

// NewMemStore is a Store over an in-memory database.
func NewMemStore() *Store {
	s, err := New(dbm.NewMemDB())
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

// MessageRecord returns the status record of a message on a replica.
func (s *Store) MessageRecord(replica, index uint32) (types.MessageRecord, bool, error) {
	ck := recordKey{replica, index}
	if cached, ok := s.records.Get(ck); ok {
		return cached.(types.MessageRecord), true, nil
	}
	bz, err := s.db.Get(key(prefixStatus, uint64(replica), uint64(index)))
	if err != nil || bz == nil {
		return types.MessageRecord{}, false, err
	}
	rec, err := types.UnmarshalMessageRecord(bz)
	if err != nil {
		return types.MessageRecord{}, false, errors.Wrapf(err, "decode record %d/%d", replica, index)
	}
	s.records.Add(ck, rec)
	return rec, true, nil
}

func (s *Store) SaveMessageRecord(rec types.MessageRecord) error {
	bz, err := rec.Marshal()
	if err != nil {
		return err
	}
	if err := s.db.SetSync(key(prefixStatus, uint64(rec.Replica), uint64(rec.Index)), bz); err != nil {
		return errors.Wrap(err, "save message record")
	}
	s.records.Add(recordKey{rec.Replica, rec.Index}, rec)
	return nil
}

// MessageRecords lists every record of a replica in index order.
func (s *Store) MessageRecords(replica uint32) ([]types.MessageRecord, error) {
	var out []types.MessageRecord
	err := s.iterate(key(prefixStatus, uint64(replica)), func(_, value []byte) error {
		rec, err := types.UnmarshalMessageRecord(value)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// ProducedCommitment returns what the updater signed over prev, if anything.
func (s *Store) ProducedCommitment(home uint32, prev types.Hash) (*types.SignedCommitment, error) {
	return s.getCommitment(key(prefixProduced, uint64(home), string(prev[:])))
}

func (s *Store) SaveProducedCommitment(sc types.SignedCommitment) error {
	return s.setJSON(key(prefixProduced, uint64(sc.HomeDomain), string(sc.PreviousRoot[:])), sc)
}

// ObservedByPrevious returns the first commitment the watcher saw over prev on a chain.
func (s *Store) ObservedByPrevious(chain uint32, prev types.Hash) (*types.SignedCommitment, error) {
	return s.getCommitment(key(prefixObserved, uint64(chain), byPrevious, string(prev[:])))
}

func (s *Store) ObservedByIndex(chain, index uint32) (*types.SignedCommitment, error) {
	return s.getCommitment(key(prefixObserved, uint64(chain), byIndex, uint64(index)))
}

// SaveObserved records sc unless a commitment is already known for its previous root or index.
func (s *Store) SaveObserved(chain uint32, sc types.SignedCommitment) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, k := range [][]byte{
		key(prefixObserved, uint64(chain), byPrevious, string(sc.PreviousRoot[:])),
		key(prefixObserved, uint64(chain), byIndex, uint64(sc.Index)),
	} {
		has, err := s.db.Has(k)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		bz, err := json.Marshal(sc)
		if err != nil {
			return err
		}
		if err := batch.Set(k, bz); err != nil {
			return err
		}
	}
	return batch.WriteSync()
}

func (s *Store) Cursor(name string) (uint64, error) {
	bz, err := s.db.Get(key(prefixCursor, name))
	if err != nil || bz == nil {
		return 0, err
	}
	var cursor uint64
	_, err = orderedcode.Parse(string(bz), &cursor)
	return cursor, err
}

func (s *Store) SaveCursor(name string, cursor uint64) error {
	return s.db.Set(key(prefixCursor, name), key(cursor))
}

func (s *Store) SaveFraud(rec types.FraudRecord) error {
	return s.setJSON(key(prefixFraud, uint64(rec.Pair.Home), uint64(rec.Pair.Replica)), rec)
}

func (s *Store) DeleteFraud(pair types.Pair) error {
	return s.db.DeleteSync(key(prefixFraud, uint64(pair.Home), uint64(pair.Replica)))
}

func (s *Store) LoadFrauds() ([]types.FraudRecord, error) {
	var out []types.FraudRecord
	err := s.iterate(key(prefixFraud), func(_, value []byte) error {
		var rec types.FraudRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *Store) getCommitment(k []byte) (*types.SignedCommitment, error) {
	bz, err := s.db.Get(k)
	if err != nil || bz == nil {
		return nil, err
	}
	var sc types.SignedCommitment
	if err := json.Unmarshal(bz, &sc); err != nil {
		return nil, errors.Wrap(err, "decode commitment")
	}
	return &sc, nil
}

func (s *Store) setJSON(k []byte, v interface{}) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.SetSync(k, bz)
}

func (s *Store) iterate(prefix []byte, fn func(key, value []byte) error) error {
	it, err := s.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func key(items ...interface{}) []byte {
	bz, err := orderedcode.Append(nil, items...)
	if err != nil {
		panic(err)
	}
	return bz
}

// prefixEnd returns the smallest key greater than every key starting with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
