// Package httpchain talks to home, replica and connection manager contracts through a JSON
// gateway. Every response is {"result": ...} or {"error": {"code": ..., "message": ...}}.
package httpchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tendermint/tendermint/libs/flowrate"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/supragya/NomadConnector/chains"
	"github.com/supragya/NomadConnector/types"
)

// Error codes understood by the client.
const (
	CodeReverted = "reverted"
	CodeStale    = "stale"
	CodeNotFound = "not_found"
	CodeInternal = "internal"
)

const maxResponseBytes = 8 << 20

type Options struct {
	// RateLimit is requests per second, zero for unlimited.
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// Client is shared by every contract reached through one gateway.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	sent    *flowrate.Monitor
	recv    *flowrate.Monitor
	logger  *log.Entry
}

func NewClient(base string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: timeout},
		sent:   flowrate.New(0, 0),
		recv:   flowrate.New(0, 0),
		logger: log.WithField("gateway", base),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

func (c *Client) Base() string {
	return c.base
}

// Stats returns the traffic sent to and received from the gateway.
func (c *Client) Stats() (sent, received flowrate.Status) {
	return c.sent.Status(), c.recv.Status()
}

func (c *Client) get(ctx context.Context, path string) (gjson.Result, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (gjson.Result, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, errors.Wrapf(err, "encode %s", path)
	}
	return c.do(ctx, http.MethodPost, path, b)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (gjson.Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return gjson.Result{}, err
		}
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return gjson.Result{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		return gjson.Result{}, types.Transient(errors.Wrapf(err, "%s %s", method, path))
	}
	defer resp.Body.Close()
	c.sent.Update(len(payload))

	raw, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, types.Transient(errors.Wrapf(err, "read %s", path))
	}
	c.recv.Update(len(raw))

	retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	if !gjson.ValidBytes(raw) {
		err := errors.Errorf("%s %s: status %d, malformed response", method, path, resp.StatusCode)
		if retryable {
			return gjson.Result{}, types.Transient(err)
		}
		return gjson.Result{}, err
	}
	parsed := gjson.ParseBytes(raw)
	if e := parsed.Get("error"); e.Exists() {
		return gjson.Result{}, decodeError(e, retryable)
	}
	if retryable {
		return gjson.Result{}, types.Transient(errors.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return gjson.Result{}, errors.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return parsed.Get("result"), nil
}

func decodeError(e gjson.Result, retryable bool) error {
	msg := e.Get("message").String()
	switch e.Get("code").String() {
	case CodeReverted:
		return types.Reverted(msg)
	case CodeStale:
		return errors.Wrap(types.ErrStale, msg)
	case CodeNotFound:
		return errors.Wrap(types.ErrNotFound, msg)
	}
	err := errors.Errorf("gateway error %s: %s", e.Get("code").String(), msg)
	if retryable {
		return types.Transient(err)
	}
	return err
}

func decode(res gjson.Result, v interface{}) error {
	if err := json.Unmarshal([]byte(res.Raw), v); err != nil {
		return errors.Wrapf(err, "decode %T", v)
	}
	return nil
}

func decodeCommitment(res gjson.Result) (*types.SignedCommitment, error) {
	if !res.Exists() || res.Type == gjson.Null {
		return nil, nil
	}
	var sc types.SignedCommitment
	if err := decode(res, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func decodeHash(res gjson.Result) (types.Hash, error) {
	return types.HexToHash(res.String())
}

func decodeOutcome(res gjson.Result) (chains.TxOutcome, error) {
	h, err := decodeHash(res.Get("tx_hash"))
	if err != nil {
		return chains.TxOutcome{}, errors.Wrap(err, "tx_hash")
	}
	return chains.TxOutcome{TxHash: h}, nil
}

func commitments(ctx context.Context, c *Client, domain uint32, cursor uint64) ([]types.SignedCommitment, uint64, error) {
	res, err := c.get(ctx, fmt.Sprintf("/v1/%d/commitments?cursor=%d", domain, cursor))
	if err != nil {
		return nil, cursor, err
	}
	var out []types.SignedCommitment
	if list := res.Get("commitments"); list.Exists() && list.Type != gjson.Null {
		if err := decode(list, &out); err != nil {
			return nil, cursor, err
		}
	}
	return out, res.Get("next").Uint(), nil
}

func submitCommitment(ctx context.Context, c *Client, domain uint32, sc types.SignedCommitment) (chains.TxOutcome, error) {
	res, err := c.post(ctx, fmt.Sprintf("/v1/%d/commitments", domain), sc)
	if err != nil {
		return chains.TxOutcome{}, err
	}
	return decodeOutcome(res)
}

func submitDoubleUpdate(ctx context.Context, c *Client, domain uint32, du types.DoubleUpdate) (chains.TxOutcome, error) {
	res, err := c.post(ctx, fmt.Sprintf("/v1/%d/double-updates", domain), du)
	if err != nil {
		return chains.TxOutcome{}, err
	}
	return decodeOutcome(res)
}
