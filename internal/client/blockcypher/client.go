package blockcypher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig contains configuration for the BlockCypher client
type ClientConfig struct {
	// BaseURL includes the coin and network, e.g. https://api.blockcypher.com/v1/doge/main
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
}

// Client handles communication with the BlockCypher API
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new BlockCypher API client
func NewClient(config ClientConfig, logger *zap.Logger) *Client {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: logger,
	}
}

// GetBalance returns the balance summary of an address
func (c *Client) GetBalance(ctx context.Context, address string) (*AddressBalance, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/addrs/"+url.PathEscape(address)+"/balance", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance failed: %w", err)
	}
	defer resp.Body.Close()

	var balance AddressBalance
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return nil, fmt.Errorf("decode balance response failed: %w", err)
	}

	return &balance, nil
}

// GetUTXOs returns confirmed and unconfirmed unspent outputs with their scripts
func (c *Client) GetUTXOs(ctx context.Context, address string) ([]TxRef, error) {
	query := url.Values{}
	query.Set("unspentOnly", "true")
	query.Set("includeScript", "true")

	resp, err := c.makeRequest(ctx, http.MethodGet, "/addrs/"+url.PathEscape(address), query, nil)
	if err != nil {
		return nil, fmt.Errorf("get utxos failed: %w", err)
	}
	defer resp.Body.Close()

	var addr Address
	if err := json.NewDecoder(resp.Body).Decode(&addr); err != nil {
		return nil, fmt.Errorf("decode address response failed: %w", err)
	}

	return append(addr.TxRefs, addr.UnconfirmedTxRefs...), nil
}

// PushTx broadcasts a signed transaction in hex and returns its hash
func (c *Client) PushTx(ctx context.Context, rawHex string) (string, error) {
	resp, err := c.makeRequest(ctx, http.MethodPost, "/txs/push", nil, &PushRequest{Tx: rawHex})
	if err != nil {
		return "", fmt.Errorf("push transaction failed: %w", err)
	}
	defer resp.Body.Close()

	var pushed PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushed); err != nil {
		return "", fmt.Errorf("decode push response failed: %w", err)
	}

	if pushed.Tx.Hash == "" {
		return "", errors.New("push response carried no transaction hash")
	}

	return pushed.Tx.Hash, nil
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, query url.Values, payload any) (*http.Response, error) {
	if query == nil {
		query = url.Values{}
	}
	if c.config.Token != "" {
		query.Set("token", c.config.Token)
	}

	u := c.config.BaseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload failed: %w", err)
		}
		body = bytes.NewReader(payloadBytes)
	}

	c.logger.Debug("preparing blockcypher request",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
	)

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}

		var decoded ErrorResponse
		if json.Unmarshal(respBody, &decoded) == nil && decoded.Error != "" {
			apiErr.Message = decoded.Error
		}

		return nil, apiErr
	}

	return resp, nil
}

// APIError represents an error returned by the BlockCypher API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("blockcypher API error (status %d): %s", e.StatusCode, e.Message)
}
