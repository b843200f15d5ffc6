package client

import (
	"sort"

	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/store/kv"
	"golang.org/x/xerrors"
)

var hiddenBucket = []byte("hidden")

// hiddenSet is the set of the proposals hidden by the active identity. When
// a database is given, the set persists on each mutation under the keys
// identity || proposal.
type hiddenSet struct {
	db        kv.DB
	proposals map[address.Address]struct{}
}

func newHiddenSet(db kv.DB) *hiddenSet {
	return &hiddenSet{
		db:        db,
		proposals: make(map[address.Address]struct{}),
	}
}

func (s *hiddenSet) load(identity address.Address) error {
	proposals := make(map[address.Address]struct{})

	if s.db != nil {
		err := s.db.Update(hiddenBucket, func(b kv.Bucket) error {
			return b.Scan(identity[:], func(k, v []byte) error {
				addr, err := address.FromBytes(k[len(identity):])
				if err != nil {
					return err
				}

				proposals[addr] = struct{}{}

				return nil
			})
		})
		if err != nil {
			return xerrors.Errorf("failed to read: %v", err)
		}
	}

	s.proposals = proposals

	return nil
}

func (s *hiddenSet) add(identity, proposal address.Address) error {
	if s.db != nil {
		err := s.db.Update(hiddenBucket, func(b kv.Bucket) error {
			return b.Set(hiddenKey(identity, proposal), []byte{1})
		})
		if err != nil {
			return xerrors.Errorf("failed to write: %v", err)
		}
	}

	s.proposals[proposal] = struct{}{}

	return nil
}

func (s *hiddenSet) remove(identity, proposal address.Address) error {
	if s.db != nil {
		err := s.db.Update(hiddenBucket, func(b kv.Bucket) error {
			return b.Delete(hiddenKey(identity, proposal))
		})
		if err != nil {
			return xerrors.Errorf("failed to delete: %v", err)
		}
	}

	delete(s.proposals, proposal)

	return nil
}

func (s *hiddenSet) has(proposal address.Address) bool {
	_, found := s.proposals[proposal]
	return found
}

func (s *hiddenSet) list() []address.Address {
	res := make([]address.Address, 0, len(s.proposals))
	for addr := range s.proposals {
		res = append(res, addr)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].String() < res[j].String()
	})

	return res
}

func hiddenKey(identity, proposal address.Address) []byte {
	key := make([]byte, 0, 2*address.Size)
	key = append(key, identity[:]...)

	return append(key, proposal[:]...)
}
