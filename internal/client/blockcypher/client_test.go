package blockcypher

import (
	"context"
	"encoding/json"
	"errors"
	"go.uber.org/zap/zaptest"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetBalanceAndUTXOs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			t.Errorf("token missing from %s", r.URL)
		}

		switch r.URL.Path {
		case "/addrs/DTestAddr/balance":
			_, _ = io.WriteString(w, `{"address":"DTestAddr","balance":100,"unconfirmed_balance":50,"final_balance":150}`)
		case "/addrs/DTestAddr":
			if r.URL.Query().Get("unspentOnly") != "true" || r.URL.Query().Get("includeScript") != "true" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `{"txrefs":[{"tx_hash":"aa","tx_output_n":1,"value":100,"script":"76a9"}],"unconfirmed_txrefs":[{"tx_hash":"bb","tx_output_n":0,"value":50}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"}, zaptest.NewLogger(t))

	bal, err := c.GetBalance(context.Background(), "DTestAddr")
	if err != nil || bal.FinalBalance != 150 {
		t.Fatalf("GetBalance = %+v, %v", bal, err)
	}

	refs, err := c.GetUTXOs(context.Background(), "DTestAddr")
	if err != nil {
		t.Fatalf("GetUTXOs: %v", err)
	}
	if len(refs) != 2 || refs[0].TxHash != "aa" || refs[1].TxHash != "bb" {
		t.Fatalf("unexpected utxos %+v", refs)
	}
}

func TestPushTx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tx != "0100" {
			t.Errorf("unexpected push body %+v %v", req, err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"tx":{"hash":"cafe"}}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))

	hash, err := c.PushTx(context.Background(), "0100")
	if err != nil || hash != "cafe" {
		t.Fatalf("PushTx = %q, %v", hash, err)
	}
}

func TestErrorMessageIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Error validating transaction: insufficient funds."}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))

	_, err := c.PushTx(context.Background(), "00")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Error validating transaction: insufficient funds." {
		t.Fatalf("unexpected error %v", err)
	}
}
