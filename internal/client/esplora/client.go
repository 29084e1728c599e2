package esplora

import (
	"context"
	"encoding/json"
	"fmt"
	"go.uber.org/zap"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig contains configuration for an Esplora compatible explorer
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Client talks to the Esplora REST API (blockstream.info, mempool.space, litecoinspace.org)
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new Esplora API client
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

// GetAddress returns the confirmed and mempool statistics of an address
func (c *Client) GetAddress(ctx context.Context, address string) (*AddressInfo, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/address/"+url.PathEscape(address), nil, "")
	if err != nil {
		return nil, fmt.Errorf("get address failed: %w", err)
	}
	defer resp.Body.Close()

	var info AddressInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode address response failed: %w", err)
	}

	return &info, nil
}

// GetUTXOs lists the unspent outputs of an address, including unconfirmed ones
func (c *Client) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/address/"+url.PathEscape(address)+"/utxo", nil, "")
	if err != nil {
		return nil, fmt.Errorf("get utxos failed: %w", err)
	}
	defer resp.Body.Close()

	var utxos []UTXO
	if err := json.NewDecoder(resp.Body).Decode(&utxos); err != nil {
		return nil, fmt.Errorf("decode utxo response failed: %w", err)
	}

	return utxos, nil
}

// Broadcast submits a raw transaction in hex and returns its txid
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	resp, err := c.makeRequest(ctx, http.MethodPost, "/tx", strings.NewReader(rawHex), "text/plain")
	if err != nil {
		return "", fmt.Errorf("broadcast failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read broadcast response failed: %w", err)
	}

	txid := strings.TrimSpace(string(body))
	c.logger.Debug("transaction broadcast", zap.String("txid", txid))

	return txid, nil
}

// makeRequest performs a single HTTP request. Retrying is left to the caller.
func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	u := c.config.BaseURL + endpoint

	c.logger.Debug("preparing esplora request",
		zap.String("method", method),
		zap.String("url", u),
	)

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	return resp, nil
}

// APIError represents an error returned by the explorer
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("esplora API error (status %d): %s", e.StatusCode, e.Message)
}
