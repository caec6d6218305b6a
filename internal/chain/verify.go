package chain

import (
	"github.com/xrfq/chain_ledger/internal/apperrors"
)

// Verify checks that stamps form one unbroken chain and returns them in link order, root first.
//
// It fails on a missing or duplicated root, on a fork (two stamps naming the same parent), on a
// gap (a child id that is unknown or does not name its parent back) and on stamps that cannot be
// reached from the root.
func Verify(stamps []ChainStamp) ([]ChainStamp, error) {
	if len(stamps) == 0 {
		return nil, apperrors.InvalidRecordState("empty chain")
	}

	byID := make(map[string]ChainStamp, len(stamps))
	children := make(map[string]int, len(stamps))
	var roots []ChainStamp
	for _, s := range stamps {
		if _, dup := byID[s.ID]; dup {
			return nil, apperrors.InvalidRecordState("duplicate chain stamp %s", s.ID)
		}
		byID[s.ID] = s
		if s.IsRoot() {
			roots = append(roots, s)
			continue
		}
		children[s.ParentID]++
		if children[s.ParentID] > 1 {
			return nil, apperrors.InvalidRecordState("fork at chain stamp %s", s.ParentID)
		}
	}

	switch len(roots) {
	case 0:
		return nil, apperrors.InvalidRecordState("chain has no root")
	case 1:
	default:
		return nil, apperrors.InvalidRecordState("chain has %d roots", len(roots))
	}

	ordered := make([]ChainStamp, 0, len(stamps))
	cur := roots[0]
	ordered = append(ordered, cur)
	for cur.HasChild() {
		next, ok := byID[cur.ChildID]
		if !ok {
			return nil, apperrors.InvalidRecordState("gap after chain stamp %s: child %s missing", cur.ID, cur.ChildID)
		}
		if next.ParentID != cur.ID {
			return nil, apperrors.InvalidRecordState("gap after chain stamp %s: child %s names parent %s", cur.ID, next.ID, next.ParentID)
		}
		ordered = append(ordered, next)
		cur = next
	}

	if len(ordered) != len(stamps) {
		return nil, apperrors.InvalidRecordState("%d chain stamps unreachable from root", len(stamps)-len(ordered))
	}
	return ordered, nil
}
