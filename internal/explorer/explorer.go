// Package explorer is a client for Etherscan-compatible block explorer APIs.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// MaxResults is the most transactions a single txlist call returns. Longer
// ranges are silently truncated to their oldest MaxResults entries.
const MaxResults = 10000

// ErrAPI is returned when the explorer answers with status "0" and an error message.
var ErrAPI = errors.New("explorer api error")

// Transaction is one entry of an account's transaction list.
type Transaction struct {
	Hash        string
	BlockNumber int64
	From        string
	To          string
	Value       decimal.Decimal // wei
	Failed      bool
	Timestamp   time.Time
}

type rawTransaction struct {
	Hash        string `json:"hash"`
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	IsError     string `json:"isError"`
}

func (r rawTransaction) toTransaction() (Transaction, error) {
	block, err := strconv.ParseInt(r.BlockNumber, 10, 64)
	if err != nil {
		return Transaction{}, fmt.Errorf("tx %s: block number %q: %w", r.Hash, r.BlockNumber, err)
	}
	value, err := decimal.NewFromString(r.Value)
	if err != nil {
		return Transaction{}, fmt.Errorf("tx %s: value %q: %w", r.Hash, r.Value, err)
	}
	var ts time.Time
	if secs, err := strconv.ParseInt(r.TimeStamp, 10, 64); err == nil {
		ts = time.Unix(secs, 0).UTC()
	}
	return Transaction{
		Hash:        r.Hash,
		BlockNumber: block,
		From:        r.From,
		To:          r.To,
		Value:       value,
		Failed:      r.IsError != "0",
		Timestamp:   ts,
	}, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type rpcEnvelope struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client queries the explorer.
type Client struct {
	http    *resty.Client
	baseURL string
	apiKey  string
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	http := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json")
	return &Client{http: http, baseURL: baseURL, apiKey: apiKey}
}

func (c *Client) get(ctx context.Context, params map[string]string, out interface{}) error {
	req := c.http.R().SetContext(ctx).SetQueryParams(params)
	if c.apiKey != "" {
		req.SetQueryParam("apikey", c.apiKey)
	}
	resp, err := req.Get(c.baseURL)
	if err != nil {
		return fmt.Errorf("explorer request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("explorer responded %s", resp.Status())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode explorer response: %w", err)
	}
	return nil
}

// TxList returns the normal transactions touching address within [startBlock, endBlock],
// oldest first and at most MaxResults of them.
func (c *Client) TxList(ctx context.Context, address string, startBlock, endBlock int64) ([]Transaction, error) {
	var env envelope
	err := c.get(ctx, map[string]string{
		"module":     "account",
		"action":     "txlist",
		"address":    address,
		"startblock": strconv.FormatInt(startBlock, 10),
		"endblock":   strconv.FormatInt(endBlock, 10),
		"sort":       "asc",
	}, &env)
	if err != nil {
		return nil, err
	}

	var raws []rawTransaction
	if err := json.Unmarshal(env.Result, &raws); err != nil {
		// errors come back as a string result
		var msg string
		if json.Unmarshal(env.Result, &msg) == nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrAPI, env.Message, msg)
		}
		return nil, fmt.Errorf("decode tx list: %w", err)
	}
	if env.Status != "1" && len(raws) == 0 && !strings.HasPrefix(strings.ToLower(env.Message), "no transactions") {
		return nil, fmt.Errorf("%w: %s", ErrAPI, env.Message)
	}

	txs := make([]Transaction, 0, len(raws))
	for _, raw := range raws {
		tx, err := raw.toTransaction()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// BlockNumber returns the current chain height.
func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	var env rpcEnvelope
	err := c.get(ctx, map[string]string{
		"module": "proxy",
		"action": "eth_blockNumber",
	}, &env)
	if err != nil {
		return 0, err
	}
	if env.Error != nil {
		return 0, fmt.Errorf("%w: %s", ErrAPI, env.Error.Message)
	}
	height, err := strconv.ParseInt(strings.TrimPrefix(env.Result, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: block number %q", ErrAPI, env.Result)
	}
	return height, nil
}
