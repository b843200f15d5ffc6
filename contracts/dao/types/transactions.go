package types

import (
	"github.com/go-playground/validator/v10"
	"github.com/privdao/privdao/core/address"
)

var validate = validator.New()

// CreateProposalTransaction is the argument of the creation of a proposal.
type CreateProposalTransaction struct {
	ID          uint64          `json:"id"`
	Title       string          `json:"title" validate:"required,max=100"`
	Description string          `json:"description" validate:"max=500"`
	Duration    int64           `json:"duration" validate:"gte=0"`
	GateMint    address.Address `json:"gateMint"`
	MinBalance  uint64          `json:"minBalance"`
	Quorum      uint64          `json:"quorum"`
}

// Validate returns a typed error for the first field out of its bounds.
func (tx CreateProposalTransaction) Validate() error {
	err := validate.Struct(tx)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return NewError(CodeInvalidArgument, "%v", err)
	}

	field := fieldErrs[0]

	switch {
	case field.Field() == "Title" && field.Tag() == "max":
		return NewError(CodeTitleTooLong, "max %d characters", MaxTitleLen)
	case field.Field() == "Description" && field.Tag() == "max":
		return NewError(CodeDescriptionTooLong, "max %d characters", MaxDescriptionLen)
	default:
		return NewError(CodeInvalidArgument, "%s failed on '%s'", field.Field(), field.Tag())
	}
}

// InitTallyTransaction is the argument of the initialization of the tally of
// a proposal.
type InitTallyTransaction struct {
	Proposal address.Address `json:"proposal"`
}

// CastVoteTransaction is the argument of a vote. The token account is the
// account holding the gate tokens of the voter. It can be omitted when the
// proposal does not require a balance. The accounts are the handles of the
// cluster that the vote references.
type CastVoteTransaction struct {
	Proposal     address.Address   `json:"proposal"`
	Ciphertext   []byte            `json:"ciphertext"`
	TokenAccount address.Address   `json:"tokenAccount"`
	Accounts     []address.Address `json:"accounts,omitempty"`
}

// RevealTransaction is the argument of the publication of the results.
type RevealTransaction struct {
	Proposal address.Address `json:"proposal"`
	Yes      uint64          `json:"yes"`
	No       uint64          `json:"no"`
	Abstain  uint64          `json:"abstain"`
}

// DelegateTransaction is the argument of the creation of a delegation of the
// voting power of the caller.
type DelegateTransaction struct {
	Delegate address.Address `json:"delegate"`
}

// RevokeDelegationTransaction is the argument of the revocation of the
// delegation of the caller.
type RevokeDelegationTransaction struct{}
