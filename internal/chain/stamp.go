package chain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xrfq/chain_ledger/internal/apperrors"
)

// ChainStamp is one link in a per-subject chain of committed ledger operations.
//
// Ids are time-ordered (UUIDv7) so creation order is also id order. ParentID is empty for a
// root. ChildID is empty until the stamp is linked and never changes afterwards.
type ChainStamp struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ParentID  string    `json:"parent_id,omitempty"`
	ChildID   string    `json:"child_id,omitempty"`
}

// NewID returns a fresh time-ordered identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Build produces a fresh stamp. A nil parent yields a root; otherwise the new stamp records the
// parent's id. Linking the parent to the child is a separate step (AppendChild).
func Build(parent *ChainStamp) ChainStamp {
	stamp := ChainStamp{
		ID:        NewID(),
		CreatedAt: time.Now().UTC(),
	}
	if parent != nil {
		stamp.ParentID = parent.ID
	}
	return stamp
}

// IsRoot reports whether the stamp starts a chain.
func (s ChainStamp) IsRoot() bool {
	return s.ParentID == ""
}

// HasChild reports whether the stamp has already been extended.
func (s ChainStamp) HasChild() bool {
	return s.ChildID != ""
}

// AppendChild links child as the single successor of s.
func (s *ChainStamp) AppendChild(child ChainStamp) error {
	if s.HasChild() {
		return apperrors.InvalidState("chain stamp %s already has child %s", s.ID, s.ChildID)
	}
	if child.ParentID != s.ID {
		return apperrors.InvalidArgument("chain stamp %s is not the parent of %s", s.ID, child.ID)
	}
	s.ChildID = child.ID
	return nil
}

// Equal compares two stamps as links: root-ness, child presence, id and child id must all
// match. Independently loaded copies of the same link compare equal.
func (s ChainStamp) Equal(other ChainStamp) bool {
	if s.IsRoot() != other.IsRoot() {
		return false
	}
	if s.HasChild() != other.HasChild() {
		return false
	}
	return s.ID == other.ID && s.ChildID == other.ChildID
}

// String redacts the ids; stamps end up in logs.
func (s ChainStamp) String() string {
	return fmt.Sprintf("chainStamp{root=%t, linked=%t}", s.IsRoot(), s.HasChild())
}
