package blockcypher

// AddressBalance represents the /addrs/{address}/balance response
type AddressBalance struct {
	Address            string `json:"address"`
	Balance            int64  `json:"balance"`
	UnconfirmedBalance int64  `json:"unconfirmed_balance"`
	FinalBalance       int64  `json:"final_balance"`
}

// Address represents the /addrs/{address} response with unspentOnly set
type Address struct {
	Address           string  `json:"address"`
	TxRefs            []TxRef `json:"txrefs"`
	UnconfirmedTxRefs []TxRef `json:"unconfirmed_txrefs"`
}

// TxRef is one unspent output
type TxRef struct {
	TxHash        string `json:"tx_hash"`
	TxOutputN     uint32 `json:"tx_output_n"`
	Value         int64  `json:"value"`
	Confirmations int64  `json:"confirmations"`
	Script        string `json:"script"`
}

type PushRequest struct {
	Tx string `json:"tx"`
}

type PushResponse struct {
	Tx struct {
		Hash string `json:"hash"`
	} `json:"tx"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
