package memchain

import (
	"context"

	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/chains"
	tmsync "github.com/supragya/NomadConnector/libs/sync"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/types"
)

// ConnectionManager lets enrolled watchers unenroll the replicas living on its domain.
type ConnectionManager struct {
	mtx tmsync.Mutex

	domain    uint32
	watchers  map[types.Address]bool
	replicas  map[uint32]*Replica
	txCounter uint64
}

func NewConnectionManager(domain uint32) *ConnectionManager {
	return &ConnectionManager{
		domain:   domain,
		watchers: make(map[types.Address]bool),
		replicas: make(map[uint32]*Replica),
	}
}

func (m *ConnectionManager) Domain() uint32 { return m.domain }

func (m *ConnectionManager) EnrollWatcher(addr types.Address) {
	m.mtx.Lock()
	m.watchers[addr] = true
	m.mtx.Unlock()
}

// EnrollReplica registers r under the home domain it mirrors.
func (m *ConnectionManager) EnrollReplica(r *Replica) {
	m.mtx.Lock()
	m.replicas[r.RemoteDomain()] = r
	m.mtx.Unlock()
}

func (m *ConnectionManager) Unenroll(ctx context.Context, sn types.SignedFailureNotification) (chains.TxOutcome, error) {
	if err := ctxErr(ctx); err != nil {
		return chains.TxOutcome{}, err
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()

	watcher, err := signer.RecoverFailureNotification(sn)
	if err != nil || !m.watchers[watcher] {
		return chains.TxOutcome{}, types.Reverted("!watcher sig")
	}
	r, ok := m.replicas[sn.Notification.HomeDomain]
	if !ok {
		return chains.TxOutcome{}, types.Reverted("!replica exists")
	}
	if r.updaterAddress() != sn.Notification.Updater {
		return chains.TxOutcome{}, types.Reverted("!current updater")
	}
	if !r.unenroll() {
		return chains.TxOutcome{}, errors.Wrap(types.ErrStale, "replica already unenrolled")
	}
	m.txCounter++
	return chains.TxOutcome{TxHash: txHash("xcm", m.txCounter)}, nil
}
