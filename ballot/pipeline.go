package ballot

import (
	"context"
	"crypto/subtle"

	"github.com/privdao/privdao"
	_ "github.com/privdao/privdao/contracts/dao/json"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/mpc"
	"github.com/privdao/privdao/serde"
	"github.com/privdao/privdao/serde/json"
	"golang.org/x/xerrors"
)

// Pipeline derives the encryption context of a proposal from its tally.
type Pipeline struct {
	deriver address.Deriver
	reader  ledger.Reader
	cluster mpc.Cluster
	ctx     serde.Context
}

// NewPipeline returns a pipeline that reads the tallies from the ledger and
// asks the cluster for the contexts.
func NewPipeline(deriver address.Deriver, reader ledger.Reader, cluster mpc.Cluster) *Pipeline {
	return &Pipeline{
		deriver: deriver,
		reader:  reader,
		cluster: cluster,
		ctx:     json.NewContext(),
	}
}

// ContextFor returns the encryption context of the proposal. It fails with
// UninitializedState when the tally of the proposal does not exist yet.
func (p *Pipeline) ContextFor(ctx context.Context, proposal address.Address) (mpc.Context, error) {
	tallyAddr, err := p.deriver.Tally(proposal)
	if err != nil {
		return mpc.Context{}, xerrors.Errorf("tally address: %v", err)
	}

	account, err := p.reader.GetAccount(ctx, tallyAddr.Address)
	if xerrors.Is(err, ledger.ErrNotFound) {
		return mpc.Context{}, types.NewError(types.CodeUninitializedState, "no tally for %v", proposal)
	}
	if err != nil {
		return mpc.Context{}, xerrors.Errorf("failed to read tally: %w", err)
	}

	tally, err := types.Decode[types.Tally](p.ctx, account.Data)
	if err != nil {
		return mpc.Context{}, xerrors.Errorf("failed to decode tally: %v", err)
	}

	if tally.Proposal != proposal {
		return mpc.Context{}, xerrors.Errorf("tally %v belongs to %v", tallyAddr.Address, tally.Proposal)
	}

	return p.DeriveContext(ctx, tally.ComputationID)
}

// DeriveContext returns the encryption context of the computation. The
// context returned by the cluster is checked to be bound to the requested
// computation.
func (p *Pipeline) DeriveContext(ctx context.Context, id mpc.ComputationID) (mpc.Context, error) {
	if id.IsZero() {
		return mpc.Context{}, types.NewError(types.CodeUninitializedState, "missing computation id")
	}

	encCtx, err := p.cluster.DeriveContext(ctx, id, mpc.CircuitName)
	if err != nil {
		return mpc.Context{}, xerrors.Errorf("cluster: %w", err)
	}

	if subtle.ConstantTimeCompare(encCtx.ComputationID[:], id[:]) != 1 {
		return mpc.Context{}, xerrors.Errorf("context bound to computation %v", encCtx.ComputationID)
	}

	if encCtx.Circuit != mpc.CircuitName || encCtx.KeyType != mpc.KeyType {
		return mpc.Context{}, xerrors.Errorf("unexpected context %s/%s", encCtx.Circuit, encCtx.KeyType)
	}

	if len(encCtx.Key) != mpc.KeySize {
		return mpc.Context{}, xerrors.Errorf("invalid key length %d", len(encCtx.Key))
	}

	privdao.Logger.Debug().Str("computation", id.String()).Msg("encryption context derived")

	return encCtx, nil
}
