package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/privdao/privdao"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/txn/signed"
	_ "github.com/privdao/privdao/core/txn/signed/json"
	"github.com/privdao/privdao/crypto/ed25519"
	"github.com/privdao/privdao/internal/tracing"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/proxy"
	proxyhttp "github.com/privdao/privdao/proxy/http"
	sjson "github.com/privdao/privdao/serde/json"
	"golang.org/x/xerrors"
)

const maxBodySize = 1 << 20

// RegisterHandlers registers the handlers of the ledger on the proxy.
func RegisterHandlers(p proxy.Proxy, lgr ledger.Ledger) {
	h := handler{ledger: lgr, factory: signed.NewTransactionFactory()}

	p.RegisterHandler(accountsPath, h.listAccounts, http.MethodGet)
	p.RegisterHandler(accountPath, h.getAccount, http.MethodGet)
	p.RegisterHandler(noncePath, h.getNonce, http.MethodGet)
	p.RegisterHandler(transactionsPath, h.submit, http.MethodPost)
	p.RegisterHandler(transactionPath, h.getStatus, http.MethodGet)
	p.RegisterHandler(logsPath, h.getLogs, http.MethodGet)
}

type handler struct {
	ledger  ledger.Ledger
	factory signed.TransactionFactory
}

func (h handler) getAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := address.Parse(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	account, err := h.ledger.GetAccount(r.Context(), addr)
	if xerrors.Is(err, ledger.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, r, http.StatusOK, AccountJSON{Address: account.Address, Data: account.Data})
}

func (h handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	kind := address.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		writeError(w, r, http.StatusBadRequest, xerrors.New("missing kind"))
		return
	}

	accounts, err := h.ledger.ListAccounts(r.Context(), kind)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	res := make([]AccountJSON, len(accounts))
	for i, account := range accounts {
		res[i] = AccountJSON{Address: account.Address, Data: account.Data}
	}

	writeJSON(w, r, http.StatusOK, res)
}

func (h handler) getNonce(w http.ResponseWriter, r *http.Request) {
	identity, err := ed25519.NewPublicKeyFactory().FromText(mux.Vars(r)["identity"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	nonce, err := h.ledger.GetNonce(r.Context(), identity)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, r, http.StatusOK, NonceJSON{Nonce: nonce})
}

func (h handler) submit(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	tx, err := h.factory.TransactionOf(sjson.NewContext(), data)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()

	flow := r.Header.Get(tracing.FlowHeader)
	if flow != "" {
		ctx = tracing.WithFlow(ctx, flow)
	}

	signature, err := h.ledger.Submit(ctx, tx)
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}

	writeJSON(w, r, http.StatusOK, SubmitJSON{Signature: signature})
}

func (h handler) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.ledger.GetStatus(r.Context(), mux.Vars(r)["signature"])
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	res := StatusJSON{
		Signature: status.Signature,
		Status:    status.Status.String(),
		Logs:      status.Logs,
	}

	if status.Err != nil {
		res.Error = errorOf(status.Err)
	}

	writeJSON(w, r, http.StatusOK, res)
}

func (h handler) getLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0

	text := r.URL.Query().Get("limit")
	if text != "" {
		var err error

		limit, err = strconv.Atoi(text)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, xerrors.Errorf("invalid limit: %v", err))
			return
		}
	}

	entries, err := h.ledger.GetLogs(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	res := make([]LogEntryJSON, len(entries))
	for i, entry := range entries {
		res[i] = LogEntryJSON{
			Signature: entry.Signature,
			Time:      entry.Time,
			Failed:    entry.Failed,
			Lines:     entry.Lines,
		}
	}

	writeJSON(w, r, http.StatusOK, res)
}

func statusOf(err error) int {
	_, typed := types.CodeOf(err)
	if typed {
		return http.StatusUnprocessableEntity
	}

	class, transient := ledger.ClassOf(err)
	switch {
	case transient && class == ledger.ClassStaleNonce:
		return http.StatusConflict
	case transient && class == ledger.ClassRateLimited:
		return http.StatusTooManyRequests
	case transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func errorOf(err error) *ErrorJSON {
	res := &ErrorJSON{Message: err.Error()}

	var typed types.Error
	if xerrors.As(err, &typed) {
		res.Code = string(typed.Code)
		res.Detail = typed.Detail
	}

	class, ok := ledger.ClassOf(err)
	if ok {
		res.Class = string(class)
	}

	return res
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	privdao.Logger.Debug().
		Str("requestID", proxyhttp.RequestID(r.Context())).
		Int("status", status).
		Err(err).
		Msg("request failed")

	writeJSON(w, r, status, errorOf(err))
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		privdao.Logger.Warn().
			Str("requestID", proxyhttp.RequestID(r.Context())).
			Err(err).
			Msg("failed to write response")
	}
}
