// Package native implements an execution service to run native programs.
//
// A native program is written in Go and packaged with the application. The
// transaction names the program with an argument.
package native

import (
	"fmt"

	"github.com/privdao/privdao/core/execution"
	"github.com/privdao/privdao/core/store"
	"golang.org/x/xerrors"
)

const (
	// ContractArg is the argument key in the transaction to look up a contract.
	ContractArg = "privdao:contract"
)

// Contract is the interface to implement to register a program that will be
// executed natively.
type Contract interface {
	Execute(store.IterableSnapshot, execution.Step) error
}

// Service is an execution service for packaged programs. Those programs have
// complete access to the snapshot and can directly update it.
//
// - implements execution.Service
type Service struct {
	contracts map[string]Contract
}

// NewExecution returns a new native execution.
func NewExecution() *Service {
	return &Service{
		contracts: map[string]Contract{},
	}
}

// Set stores the contract using the name as the key. A transaction can trigger
// this contract by using the same name as the contract argument.
func (ns *Service) Set(name string, contract Contract) {
	ns.contracts[name] = contract
}

// Execute implements execution.Service. A rejection by the contract is not an
// error of the service: it is reported in the result. The log of the step
// collects the invoke and failure lines around the contract's own lines.
func (ns *Service) Execute(snap store.IterableSnapshot, step execution.Step) (execution.Result, error) {
	name := string(step.Current.GetArg(ContractArg))

	contract := ns.contracts[name]
	if contract == nil {
		return execution.Result{}, xerrors.Errorf("unknown contract '%s'", name)
	}

	if step.Log == nil {
		step.Log = &execution.Log{}
	}

	step.Log.Add(fmt.Sprintf("Program %s invoke", name))

	res := execution.Result{
		Accepted: true,
	}

	err := contract.Execute(snap, step)
	if err != nil {
		res.Accepted = false
		res.Message = err.Error()
		res.Err = err

		step.Log.Add(fmt.Sprintf("Program %s failed: %s", name, res.Message))
	} else {
		step.Log.Add(fmt.Sprintf("Program %s success", name))
	}

	res.Logs = step.Log.Lines()

	return res, nil
}
