// Package fraud holds the per pair halt flags. A flag is set once by the watcher and read lock
// free by every relayer and processor; only an operator can clear it.
package fraud

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	tmsync "github.com/supragya/NomadConnector/libs/sync"
	"github.com/supragya/NomadConnector/types"
)

// Store persists flags across restarts.
type Store interface {
	SaveFraud(rec types.FraudRecord) error
	DeleteFraud(pair types.Pair) error
	LoadFrauds() ([]types.FraudRecord, error)
}

type flag struct {
	set    int32
	mtx    tmsync.Mutex
	record types.FraudRecord
}

// Registry maps every guarded pair to its flag.
type Registry struct {
	flags sync.Map // types.Pair -> *flag
	store Store
	now   func() time.Time
}

// NewRegistry loads persisted flags from store, which may be nil.
func NewRegistry(store Store) (*Registry, error) {
	r := &Registry{store: store, now: time.Now}
	if store == nil {
		return r, nil
	}
	recs, err := store.LoadFrauds()
	if err != nil {
		return nil, errors.Wrap(err, "load fraud flags")
	}
	for _, rec := range recs {
		f := r.flag(rec.Pair)
		f.record = rec
		atomic.StoreInt32(&f.set, 1)
		log.WithField("pair", rec.Pair.String()).Warn("Fraud flag restored from store: ", rec.Reason)
	}
	return r, nil
}

func (r *Registry) flag(pair types.Pair) *flag {
	if f, ok := r.flags.Load(pair); ok {
		return f.(*flag)
	}
	f, _ := r.flags.LoadOrStore(pair, &flag{})
	return f.(*flag)
}

// IsSet reports whether pair is halted.
func (r *Registry) IsSet(pair types.Pair) bool {
	f, ok := r.flags.Load(pair)
	return ok && atomic.LoadInt32(&f.(*flag).set) == 1
}

// Set raises the flag for rec.Pair. Only the first caller wins and gets true; later calls
// keep the original record. The flag is raised in memory even if persisting it fails.
func (r *Registry) Set(rec types.FraudRecord) (bool, error) {
	f := r.flag(rec.Pair)
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if !atomic.CompareAndSwapInt32(&f.set, 0, 1) {
		return false, nil
	}
	if rec.SetAt.IsZero() {
		rec.SetAt = r.now().UTC()
	}
	f.record = rec
	if r.store != nil {
		if err := r.store.SaveFraud(rec); err != nil {
			return true, errors.Wrap(err, "persist fraud flag")
		}
	}
	return true, nil
}

// Reset clears the flag. It is never called by the agents themselves.
func (r *Registry) Reset(pair types.Pair) (types.FraudRecord, error) {
	f := r.flag(pair)
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if atomic.LoadInt32(&f.set) == 0 {
		return types.FraudRecord{}, errors.Errorf("fraud flag for %s is not set", pair)
	}
	if r.store != nil {
		if err := r.store.DeleteFraud(pair); err != nil {
			return types.FraudRecord{}, errors.Wrap(err, "delete fraud flag")
		}
	}
	rec := f.record
	f.record = types.FraudRecord{}
	atomic.StoreInt32(&f.set, 0)
	return rec, nil
}

func (r *Registry) Record(pair types.Pair) (types.FraudRecord, bool) {
	if !r.IsSet(pair) {
		return types.FraudRecord{}, false
	}
	f := r.flag(pair)
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.record, atomic.LoadInt32(&f.set) == 1
}

// Records lists every raised flag ordered by pair.
func (r *Registry) Records() []types.FraudRecord {
	var out []types.FraudRecord
	r.flags.Range(func(k, _ interface{}) bool {
		if rec, ok := r.Record(k.(types.Pair)); ok {
			out = append(out, rec)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair.Home != out[j].Pair.Home {
			return out[i].Pair.Home < out[j].Pair.Home
		}
		return out[i].Pair.Replica < out[j].Pair.Replica
	})
	return out
}
