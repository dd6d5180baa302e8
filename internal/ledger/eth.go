package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// DefaultReadTimeout bounds every ledger read.
const DefaultReadTimeout = 30 * time.Second

// Backend is the subset of an Ethereum JSON-RPC client the ledger reads need.
// *ethclient.Client satisfies it.
type Backend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthClient reads consent events and records from an EVM contract.
type EthClient struct {
	backend Backend
	closer  func()
	address common.Address
	abi     abi.ABI
	genesis uint64
	timeout time.Duration
	byID    map[common.Hash]model.EventType
}

// EthOption configures an EthClient.
type EthOption func(*EthClient)

// WithGenesisBlock sets the block queries start from when no lower bound is given.
func WithGenesisBlock(block uint64) EthOption {
	return func(c *EthClient) { c.genesis = block }
}

// WithReadTimeout sets the per-call timeout.
func WithReadTimeout(d time.Duration) EthOption {
	return func(c *EthClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// DialEth connects to the JSON-RPC endpoint at rawURL.
func DialEth(ctx context.Context, rawURL, contract string, opts ...EthOption) (*EthClient, error) {
	rpcClient, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, model.Connectivity("ledger.dial", err)
	}
	c, err := NewEthClient(rpcClient, contract, opts...)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	c.closer = rpcClient.Close
	return c, nil
}

// NewEthClient creates an EthClient over an existing backend.
func NewEthClient(backend Backend, contract string, opts ...EthOption) (*EthClient, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", contract)
	}
	parsed, err := ParseConsentABI()
	if err != nil {
		return nil, fmt.Errorf("ledger: parsing contract ABI: %w", err)
	}
	c := &EthClient{
		backend: backend,
		address: common.HexToAddress(contract),
		abi:     parsed,
		timeout: DefaultReadTimeout,
		byID:    make(map[common.Hash]model.EventType, len(model.LedgerEventTypes)),
	}
	for _, t := range model.LedgerEventTypes {
		ev, ok := parsed.Events[string(t)]
		if !ok {
			return nil, fmt.Errorf("ledger: ABI has no event %s", t)
		}
		c.byID[ev.ID] = t
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying RPC connection, if this client owns one.
func (c *EthClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// QueryEvents implements Client.
func (c *EthClient) QueryEvents(ctx context.Context, eventType model.EventType, q Query, from, to *uint64) ([]model.Event, error) {
	const op = "ledger.queryEvents"

	ev, ok := c.abi.Events[string(eventType)]
	if !ok || !eventType.IsLedgerType() {
		return nil, &model.Error{Kind: model.KindValidation, Op: op, Msg: fmt.Sprintf("event type %q is not emitted by the ledger", eventType)}
	}
	topics, err := c.topicsFor(ev, q)
	if err != nil {
		return nil, &model.Error{Kind: model.KindValidation, Op: op, Msg: "building topic filter", Err: err}
	}

	start := c.genesis
	if from != nil {
		start = *from
	}
	fq := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(start),
		Addresses: []common.Address{c.address},
		Topics:    topics,
	}
	if to != nil {
		fq.ToBlock = new(big.Int).SetUint64(*to)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logs, err := c.backend.FilterLogs(ctx, fq)
	if err != nil {
		return nil, classify(op, err)
	}

	events := make([]model.Event, 0, len(logs))
	for i := range logs {
		lg := &logs[i]
		if lg.Removed {
			continue
		}
		e, err := c.decodeLog(lg)
		if err != nil {
			return nil, model.Upstream(op, fmt.Errorf("log %s#%d: %w", lg.TxHash.Hex(), lg.Index, err))
		}
		if e.Type != eventType || !q.Matches(&e) {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// topicsFor maps the query's fields onto the event's indexed arguments.
func (c *EthClient) topicsFor(ev abi.Event, q Query) ([][]common.Hash, error) {
	indexed := indexedInputs(ev)
	rules := make([][]any, len(indexed))
	for i, arg := range indexed {
		switch arg.Name {
		case "consentId":
			if q.ConsentID != nil {
				rules[i] = []any{new(big.Int).SetUint64(*q.ConsentID)}
			}
		case "requestId":
			if q.RequestID != nil {
				rules[i] = []any{new(big.Int).SetUint64(*q.RequestID)}
			}
		case "patient":
			if q.Patient != "" {
				rules[i] = []any{common.HexToAddress(q.Patient)}
			}
		case "provider", "requester":
			if q.Provider != "" {
				rules[i] = []any{common.HexToAddress(q.Provider)}
			}
		}
	}
	argTopics, err := abi.MakeTopics(rules...)
	if err != nil {
		return nil, err
	}
	return append([][]common.Hash{{ev.ID}}, argTopics...), nil
}

func (c *EthClient) decodeLog(lg *types.Log) (model.Event, error) {
	if len(lg.Topics) == 0 {
		return model.Event{}, errors.New("log has no topics")
	}
	t, ok := c.byID[lg.Topics[0]]
	if !ok {
		return model.Event{}, fmt.Errorf("unknown event signature %s", lg.Topics[0].Hex())
	}
	ev := c.abi.Events[string(t)]

	fields := make(map[string]any, len(ev.Inputs))
	if err := abi.ParseTopicsIntoMap(fields, indexedInputs(ev), lg.Topics[1:]); err != nil {
		return model.Event{}, fmt.Errorf("parsing topics: %w", err)
	}
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(fields, lg.Data); err != nil {
		return model.Event{}, fmt.Errorf("unpacking data: %w", err)
	}

	e, err := eventFromFields(t, fields)
	if err != nil {
		return model.Event{}, err
	}
	e.BlockNumber = lg.BlockNumber
	e.TransactionHash = lg.TxHash.Hex()
	e.LogIndex = model.UintPtr(lg.Index)
	return e, nil
}

// ReadConsent implements Client.
func (c *EthClient) ReadConsent(ctx context.Context, id uint64) (*model.ConsentRecord, error) {
	const op = "ledger.readConsent"
	fields, err := c.call(ctx, op, methodConsentRecord, id)
	if err != nil {
		return nil, err
	}
	rec, err := consentFromFields(id, fields)
	if err != nil {
		return nil, model.Upstream(op, err)
	}
	if isZeroAddress(rec.Patient) {
		return nil, model.NotFound(op, "consent %d not found", id)
	}
	rec.IsExpired = rec.ExpiredAt(time.Now())
	return rec, nil
}

// ReadRequest implements Client.
func (c *EthClient) ReadRequest(ctx context.Context, id uint64) (*model.AccessRequest, error) {
	const op = "ledger.readRequest"
	fields, err := c.call(ctx, op, methodAccessRequest, id)
	if err != nil {
		return nil, err
	}
	req, err := requestFromFields(id, fields)
	if err != nil {
		return nil, model.Upstream(op, err)
	}
	if isZeroAddress(req.Patient) {
		return nil, model.NotFound(op, "access request %d not found", id)
	}
	return req, nil
}

func (c *EthClient) call(ctx context.Context, op, method string, id uint64) (map[string]any, error) {
	input, err := c.abi.Pack(method, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, fmt.Errorf("%s: packing %s: %w", op, method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: input}, nil)
	if err != nil {
		return nil, classify(op, err)
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, model.Upstream(op, fmt.Errorf("unpacking %s: %w", method, err))
	}
	fields, err := outputFields(c.abi.Methods[method].Outputs, values)
	if err != nil {
		return nil, model.Upstream(op, err)
	}
	return fields, nil
}

// CurrentBlockHeight implements Client.
func (c *EthClient) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, classify("ledger.blockNumber", err)
	}
	return n, nil
}

// classify maps a transport error onto the error taxonomy. JSON-RPC errors
// and 4xx responses mean the node answered; everything else is connectivity.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.Connectivity(op, err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return model.Upstream(op, err)
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= http.StatusInternalServerError {
			return model.Connectivity(op, err)
		}
		return model.Upstream(op, err)
	}
	return model.Connectivity(op, err)
}

var _ Client = (*EthClient)(nil)
