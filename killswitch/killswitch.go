// Package killswitch unenrolls replicas on operator request, outside the watcher's fraud path.
package killswitch

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/mgutz/ansi"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/supragya/NomadConnector/chains"
	tmsync "github.com/supragya/NomadConnector/libs/sync"
	"github.com/supragya/NomadConnector/retry"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/types"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Channel is one home to replica link. Manager is nil when the replica chain has none configured.
type Channel struct {
	Home    string
	Replica string
	Manager chains.ConnectionManager
}

type Output struct {
	Command string  `json:"command"`
	Message Message `json:"message"`
}

// Message carries either a single error the run bailed on, or the per home results.
type Message struct {
	Result *Result                `json:"result,omitempty"`
	Homes  map[string]*HomeOutput `json:"homes,omitempty"`
}

type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// HomeOutput is successful only if every replica was unenrolled.
type HomeOutput struct {
	Status  Status         `json:"status"`
	Message ReplicasOutput `json:"message"`
}

type ReplicasOutput struct {
	Replicas map[string]ReplicaOutput `json:"replicas"`
}

type ReplicaOutput struct {
	Result ReplicaResult `json:"result"`
}

type ReplicaResult struct {
	Status  Status      `json:"status"`
	TxHash  *types.Hash `json:"txHash,omitempty"`
	Message []string    `json:"message,omitempty"`
}

// Failed wraps an error that stopped the run before any channel was tried.
func Failed(command string, err error) *Output {
	return &Output{Command: command, Message: Message{Result: &Result{Status: StatusError, Message: err.Error()}}}
}

// OK reports whether every channel was unenrolled.
func (o *Output) OK() bool {
	if o.Message.Result != nil {
		return false
	}
	for _, h := range o.Message.Homes {
		if h.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// Run signs one failure notification for the home and sends it to the manager of every channel
// concurrently. Failures on one channel do not stop the others.
func Run(ctx context.Context, command string, home chains.Home, channels []Channel, key signer.Signer, policy retry.Policy) *Output {
	var updater types.Address
	err := retry.Do(ctx, policy, func(ctx context.Context) (err error) {
		updater, err = home.Updater(ctx)
		return err
	})
	if err != nil {
		return Failed(command, errors.Wrap(err, "home updater"))
	}
	sn, err := signer.SignFailureNotification(ctx, key, types.FailureNotification{HomeDomain: home.Domain(), Updater: updater})
	if err != nil {
		return Failed(command, err)
	}

	var (
		mtx     tmsync.Mutex
		results = make(map[Channel]ReplicaResult, len(channels))
		g       errgroup.Group
	)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			res := unenroll(ctx, ch, sn, policy)
			mtx.Lock()
			results[ch] = res
			mtx.Unlock()
			return nil
		})
	}
	g.Wait()

	out := &Output{Command: command, Message: Message{Homes: make(map[string]*HomeOutput)}}
	for ch, res := range results {
		h, ok := out.Message.Homes[ch.Home]
		if !ok {
			h = &HomeOutput{Status: StatusSuccess, Message: ReplicasOutput{Replicas: make(map[string]ReplicaOutput)}}
			out.Message.Homes[ch.Home] = h
		}
		if res.Status != StatusSuccess {
			h.Status = StatusError
		}
		h.Message.Replicas[ch.Replica] = ReplicaOutput{Result: res}
	}
	return out
}

func unenroll(ctx context.Context, ch Channel, sn types.SignedFailureNotification, policy retry.Policy) ReplicaResult {
	entry := log.WithFields(log.Fields{"home": ch.Home, "replica": ch.Replica})
	if ch.Manager == nil {
		entry.Error("No connection manager configured")
		return ReplicaResult{Status: StatusError, Message: []string{"no connection manager configured"}}
	}
	var outcome chains.TxOutcome
	var messages []string
	err := retry.Do(ctx, policy, func(ctx context.Context) (err error) {
		outcome, err = ch.Manager.Unenroll(ctx, sn)
		if err != nil {
			messages = append(messages, err.Error())
		}
		return err
	})
	if err != nil {
		entry.Error("Unenroll failed: ", err)
		return ReplicaResult{Status: StatusError, Message: messages}
	}
	entry.Warn("Replica unenrolled, tx ", outcome.TxHash.Short())
	tx := outcome.TxHash
	return ReplicaResult{Status: StatusSuccess, TxHash: &tx}
}

// Summary writes one line per channel, coloured when color is set.
func (o *Output) Summary(w io.Writer, color bool) {
	paint := func(s Status) string {
		if !color {
			return string(s)
		}
		if s == StatusSuccess {
			return ansi.Color(string(s), "green+b")
		}
		return ansi.Color(string(s), "red+b")
	}
	if o.Message.Result != nil {
		fmt.Fprintf(w, "%s: %s\n", paint(o.Message.Result.Status), o.Message.Result.Message)
		return
	}

	homes := make([]string, 0, len(o.Message.Homes))
	for name := range o.Message.Homes {
		homes = append(homes, name)
	}
	sort.Strings(homes)
	for _, home := range homes {
		h := o.Message.Homes[home]
		fmt.Fprintf(w, "%s [%s]\n", home, paint(h.Status))
		replicas := make([]string, 0, len(h.Message.Replicas))
		for name := range h.Message.Replicas {
			replicas = append(replicas, name)
		}
		sort.Strings(replicas)
		for _, name := range replicas {
			res := h.Message.Replicas[name].Result
			switch {
			case res.TxHash != nil:
				fmt.Fprintf(w, "  -> %s [%s] tx %s\n", name, paint(res.Status), res.TxHash.Hex())
			default:
				fmt.Fprintf(w, "  -> %s [%s]\n", name, paint(res.Status))
				for _, m := range res.Message {
					fmt.Fprintf(w, "       %s\n", m)
				}
			}
		}
	}
}
