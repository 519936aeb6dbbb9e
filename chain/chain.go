// Package chain performs the single read-only contract call the
// pipeline needs: isHumanVerified(agentId) against a fixed validator
// contract over JSON-RPC. The call is idempotent and gasless; any RPC
// failure is reported to the caller, who treats it as not verified.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// Defaults for the demo deployment.
const (
	DefaultRPCURL    = "https://sepolia.base.org"
	DefaultValidator = "0x1258F013d1BA690Dc73EA89Fd48F86E86AD0f124"
)

const methodSignature = "isHumanVerified(uint256)"

// Client issues eth_call requests against one validator contract.
type Client struct {
	rpcURL    string
	validator string
	httpc     *http.Client
	selector  []byte
}

// New creates a client. Empty arguments select the demo defaults.
func New(rpcURL, validator string) *Client {
	if rpcURL == "" {
		rpcURL = DefaultRPCURL
	}
	if validator == "" {
		validator = DefaultValidator
	}
	return &Client{
		rpcURL:    rpcURL,
		validator: validator,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		selector:  methodSelector(methodSignature),
	}
}

// methodSelector derives the 4-byte ABI selector for a signature.
func methodSelector(signature string) []byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(signature))
	return hash.Sum(nil)[:4]
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// IsHumanVerified reports whether the agent carries an active human
// verification bond on-chain. The agent id is an opaque decimal
// uint256.
func (c *Client) IsHumanVerified(ctx context.Context, agentID string) (bool, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(agentID), 10)
	if !ok || id.Sign() < 0 || id.BitLen() > 256 {
		return false, errors.Errorf("invalid agent id %q", agentID)
	}

	data := make([]byte, 4+32)
	copy(data, c.selector)
	id.FillBytes(data[4:])

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_call",
		Params: []any{
			map[string]string{"to": c.validator, "data": "0x" + hex.EncodeToString(data)},
			"latest",
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "encode rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return false, errors.Wrap(err, "build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "rpc call")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, errors.Errorf("rpc status %d", resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, errors.Wrap(err, "decode rpc response")
	}
	if out.Error != nil {
		return false, errors.Errorf("rpc error %d: %s", out.Error.Code, out.Error.Message)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(out.Result, "0x"))
	if err != nil {
		return false, errors.Wrap(err, "decode rpc result")
	}
	for _, b := range raw {
		if b != 0 {
			return true, nil
		}
	}
	return false, nil
}
