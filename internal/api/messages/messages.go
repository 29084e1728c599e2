package messages

type HealthResponse struct {
	Status string `json:"status"`
}

type BroadcastRequest struct {
	Chain string `json:"chain"`
	// SignedTx is hex (optionally 0x prefixed) or, for Solana clients, base64.
	SignedTx string `json:"signed_tx"`
}

type BroadcastResponse struct {
	TxHash string `json:"tx_hash"`
}
