package api

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.coinpayportal.com/engine/internal/api/messages"
	"go.coinpayportal.com/engine/internal/config"
	"go.coinpayportal.com/engine/internal/repository"
	"go.coinpayportal.com/engine/internal/webhook"
	"go.coinpayportal.com/engine/service"
	"go.lumeweb.com/httputil"
	"go.uber.org/zap"
	"net/http"
	"strings"
)

const apiName = "coinpay"

var errInvalidSignedTx = errors.New("signed_tx must be hex or base64")

type API struct {
	cfg        config.HTTPConfig
	token      string
	monitor    service.MonitorService
	forwarding service.ForwardingService
	prepared   service.PreparedService
	webhooks   service.WebhookService
	status     service.StatusService
	logger     *zap.Logger
}

type Services struct {
	Monitor    service.MonitorService
	Forwarding service.ForwardingService
	Prepared   service.PreparedService
	Webhooks   service.WebhookService
	Status     service.StatusService
}

func NewAPI(cfg config.HTTPConfig, internal config.InternalConfig, services Services, logger *zap.Logger) *API {
	return &API{
		cfg:        cfg,
		token:      internal.Token,
		monitor:    services.Monitor,
		forwarding: services.Forwarding,
		prepared:   services.Prepared,
		webhooks:   services.Webhooks,
		status:     services.Status,
		logger:     logger.Named("api"),
	}
}

func (a API) Name() string {
	return apiName
}

// Handler returns a router with every route configured.
func (a API) Handler() http.Handler {
	router := mux.NewRouter()
	a.Configure(router)
	return router
}

func (a API) Configure(router *mux.Router) {
	router.HandleFunc("/healthz", a.health).Methods("GET")

	publicCors := cors.New(cors.Options{
		AllowedOrigins: a.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})

	publicRouter := router.PathPrefix("/api").Subrouter()
	publicRouter.Use(publicCors.Handler)
	publicRouter.HandleFunc("/payments/{id}", a.getPayment).Methods("GET", "OPTIONS")

	internalRouter := router.PathPrefix("/internal").Subrouter()
	internalRouter.Use(a.requireToken)
	internalRouter.HandleFunc("/monitor/run", a.runMonitor).Methods("POST")
	internalRouter.HandleFunc("/payments/{id}/forward", a.forwardPayment).Methods("POST")
	internalRouter.HandleFunc("/transactions/{id}/broadcast", a.broadcastPrepared).Methods("POST")
	internalRouter.HandleFunc("/businesses/{id}/webhook/test", a.testWebhook).Methods("POST")
}

// requireToken checks the internal bearer token in constant time. An unset token locks the routes.
func (a API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || a.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			ctx := httputil.Context(r, w)
			_ = ctx.Error(errors.New("unauthorized"), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a API) health(w http.ResponseWriter, r *http.Request) {
	ctx := httputil.Context(r, w)

	ctx.Encode(&messages.HealthResponse{Status: "ok"})
}

func (a API) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := httputil.Context(r, w)

	view, err := a.status.PaymentStatus(ctx, mux.Vars(r)["id"])
	if err != nil {
		_ = ctx.Error(err, a.statusFor(err))
		return
	}

	ctx.Encode(view)
}

func (a API) runMonitor(w http.ResponseWriter, r *http.Request) {
	ctx := httputil.Context(r, w)

	result, err := a.monitor.RunCycle(ctx)
	if err != nil {
		_ = ctx.Error(err, a.statusFor(err))
		return
	}

	ctx.Encode(&result)
}

func (a API) forwardPayment(w http.ResponseWriter, r *http.Request) {
	ctx := httputil.Context(r, w)

	result, err := a.forwarding.Forward(ctx, mux.Vars(r)["id"])
	if err != nil {
		_ = ctx.Error(err, a.statusFor(err))
		return
	}

	ctx.Encode(result)
}

func (a API) broadcastPrepared(w http.ResponseWriter, r *http.Request) {
	ctx := httputil.Context(r, w)

	var req messages.BroadcastRequest
	if err := ctx.Decode(&req); err != nil {
		_ = ctx.Error(err, http.StatusBadRequest)
		return
	}

	if req.Chain == "" {
		_ = ctx.Error(errors.New("chain is required"), http.StatusBadRequest)
		return
	}

	raw, err := decodeSignedTx(req.SignedTx)
	if err != nil {
		_ = ctx.Error(err, http.StatusBadRequest)
		return
	}

	txHash, err := a.prepared.BroadcastPrepared(ctx, mux.Vars(r)["id"], req.Chain, raw)
	if err != nil {
		_ = ctx.Error(err, a.statusFor(err))
		return
	}

	ctx.Encode(&messages.BroadcastResponse{TxHash: txHash})
}

func (a API) testWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := httputil.Context(r, w)

	result, err := a.webhooks.SendTest(ctx, mux.Vars(r)["id"])
	if err != nil {
		_ = ctx.Error(err, a.statusFor(err))
		return
	}

	ctx.Encode(&messages.WebhookTestResponse{
		Success:    result.Success,
		StatusCode: result.StatusCode,
		Error:      result.Error,
	})
}

func (a API) statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrPreparedNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPaymentNotConfirmed), errors.Is(err, service.ErrPreparedNotPending):
		return http.StatusConflict
	case errors.Is(err, service.ErrPreparedExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrChainMismatch), errors.Is(err, webhook.ErrNoEndpoint):
		return http.StatusUnprocessableEntity
	}

	a.logger.Error("request failed", zap.Error(err))
	return http.StatusInternalServerError
}

func decodeSignedTx(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errInvalidSignedTx
	}

	if raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err == nil {
		return raw, nil
	}

	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}

	return nil, errInvalidSignedTx
}
