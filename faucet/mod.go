// Package faucet implements the distribution of gate tokens to the voters of
// a development network: a rate-limited HTTP endpoint, the minter it relies
// on and its client.
package faucet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/privdao/privdao"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/contracts/token"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/txn/signed"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/proxy"
	proxyhttp "github.com/privdao/privdao/proxy/http"
	"github.com/privdao/privdao/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Path is the path of the endpoint of the claims.
const Path = "/api/faucet"

// DefaultAmount is the default number of base units of a claim.
const DefaultAmount = 1_000_000

const maxBodySize = 1 << 12

var promClaims = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "privdao_faucet_claims_total",
	Help: "claims received by the faucet, by outcome",
}, []string{"result"})

func init() {
	privdao.PromCollectors = append(privdao.PromCollectors, promClaims)
}

var validate = validator.New()

// ClaimRequest is the body of a claim.
type ClaimRequest struct {
	WalletAddress string `json:"walletAddress" validate:"required,min=32,max=44,alphanum"`
}

// ClaimResponse is the body of a served claim. The token account is the one
// of the wallet that received the tokens.
type ClaimResponse struct {
	TokenAccount string `json:"tokenAccount" validate:"required"`
	TxSignature  string `json:"txSignature" validate:"required"`
	Mint         string `json:"mint" validate:"required"`
	Amount       uint64 `json:"amount" validate:"gt=0"`
}

// ErrorResponse is the body of a refused claim.
type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

// Minter creates tokens for a recipient.
type Minter interface {
	// Mint sends the tokens to the recipient and returns the signature of the
	// transaction.
	Mint(ctx context.Context, recipient address.Address, amount uint64) (string, error)

	// MintAddress returns the address of the minted class of tokens.
	MintAddress() address.Address
}

// Server serves the claims of tokens.
type Server struct {
	limiter *Limiter
	minter  Minter
	deriver address.Deriver
	amount  uint64
	logger  zerolog.Logger
}

// NewServer returns a faucet that sends the amount to each allowed claim.
func NewServer(limiter *Limiter, minter Minter, deriver address.Deriver, amount uint64) *Server {
	return &Server{
		limiter: limiter,
		minter:  minter,
		deriver: deriver,
		amount:  amount,
		logger:  privdao.Logger.With().Str("component", "faucet").Logger(),
	}
}

// RegisterHandlers registers the endpoint of the faucet on the proxy.
func (s *Server) RegisterHandlers(p proxy.Proxy) {
	p.RegisterHandler(Path, s.claim, http.MethodPost)
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With().Str("requestID", proxyhttp.RequestID(r.Context())).Logger()

	var req ClaimRequest

	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req)
	if err == nil {
		err = validate.Struct(req)
	}
	if err != nil {
		promClaims.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	recipient, err := address.Parse(req.WalletAddress)
	if err != nil {
		promClaims.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid wallet address: " + err.Error()})
		return
	}

	account, err := s.deriver.TokenAccount(recipient, s.minter.MintAddress())
	if err != nil {
		promClaims.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "no token account: " + err.Error()})
		return
	}

	if !s.limiter.Allow(req.WalletAddress) {
		promClaims.WithLabelValues("limited").Inc()

		wait := s.limiter.RetryAfter(req.WalletAddress)
		seconds := int64(wait.Seconds()) + 1

		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error:      "rate limit reached",
			RetryAfter: seconds,
		})

		logger.Info().Stringer("recipient", recipient).Msg("claim refused")
		return
	}

	sig, err := s.minter.Mint(r.Context(), recipient, s.amount)
	if err != nil {
		// The claim was not served when the transaction was not applied.
		if !ledger.IsIndeterminate(err) {
			s.limiter.Refund(req.WalletAddress)
		}

		promClaims.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).Stringer("recipient", recipient).Msg("mint failed")

		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "failed to mint: " + err.Error()})
		return
	}

	promClaims.WithLabelValues("served").Inc()
	logger.Info().Stringer("recipient", recipient).Uint64("amount", s.amount).Msg("claim served")

	writeJSON(w, http.StatusOK, ClaimResponse{
		TokenAccount: account.Address.String(),
		TxSignature:  sig,
		Mint:         s.minter.MintAddress().String(),
		Amount:       s.amount,
	})
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		privdao.Logger.Warn().Err(err).Msg("failed to write response")
	}
}

// TokenMinter mints the tokens of a class it has the authority of, through
// the token program of the ledger.
//
// - implements faucet.Minter
type TokenMinter struct {
	sync.Mutex

	ledger ledger.Ledger
	mgr    *signed.TransactionManager
	mint   address.Address
	policy retry.Policy
}

// NewTokenMinter returns a minter of the class of tokens. The signer must be
// the authority of the class.
func NewTokenMinter(lgr ledger.Ledger, signer crypto.Signer, mint address.Address) *TokenMinter {
	return &TokenMinter{
		ledger: lgr,
		mgr:    signed.NewManager(signer, lgr),
		mint:   mint,
		policy: retry.NewPolicy(retry.WithRetryable(ledger.IsNotApplied)),
	}
}

// MintAddress implements faucet.Minter.
func (m *TokenMinter) MintAddress() address.Address {
	return m.mint
}

// Mint implements faucet.Minter. The transactions of the authority are
// serialized to keep the nonces in order.
func (m *TokenMinter) Mint(ctx context.Context, recipient address.Address, amount uint64) (string, error) {
	args, err := token.Args(token.CmdMintTo, token.MintToTransaction{
		Mint:   m.mint,
		Owner:  recipient,
		Amount: amount,
	})
	if err != nil {
		return "", xerrors.Errorf("failed to create args: %v", err)
	}

	m.Lock()
	defer m.Unlock()

	var sig string

	err = m.policy.Do(ctx, func(ctx context.Context) error {
		err := m.mgr.Sync(ctx)
		if err != nil {
			return err
		}

		tx, err := m.mgr.Make(args...)
		if err != nil {
			return xerrors.Errorf("failed to make tx: %v", err)
		}

		sig, err = m.ledger.Submit(ctx, tx)

		return err
	})
	if err != nil {
		return "", err
	}

	return sig, nil
}

// CreateMint creates the class of tokens of the signer with the label and
// returns its address. A class that already exists is reused.
func CreateMint(ctx context.Context, lgr ledger.Ledger, deriver address.Deriver,
	signer crypto.Signer, label string) (address.Address, error) {

	authority, err := address.FromPublicKey(signer.GetPublicKey())
	if err != nil {
		return address.Address{}, xerrors.Errorf("invalid signer: %v", err)
	}

	derived, err := deriver.Mint(authority, label)
	if err != nil {
		return address.Address{}, xerrors.Errorf("mint address: %v", err)
	}

	_, found, err := ledger.Fetch[types.Mint](ctx, lgr, derived.Address)
	if err != nil {
		return address.Address{}, err
	}
	if found {
		return derived.Address, nil
	}

	args, err := token.Args(token.CmdCreateMint, token.CreateMintTransaction{Label: label})
	if err != nil {
		return address.Address{}, xerrors.Errorf("failed to create args: %v", err)
	}

	mgr := signed.NewManager(signer, lgr)
	policy := retry.NewPolicy(retry.WithRetryable(ledger.IsNotApplied))

	err = policy.Do(ctx, func(ctx context.Context) error {
		err := mgr.Sync(ctx)
		if err != nil {
			return err
		}

		tx, err := mgr.Make(args...)
		if err != nil {
			return xerrors.Errorf("failed to make tx: %v", err)
		}

		_, err = lgr.Submit(ctx, tx)

		return err
	})
	if err != nil {
		return address.Address{}, xerrors.Errorf("failed to create mint: %w", err)
	}

	return derived.Address, nil
}
