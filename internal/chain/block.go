package chain

import (
	"fmt"
	"strings"
	"time"

	"github.com/xrfq/chain_ledger/internal/apperrors"
)

// Region is the deployment partition a block was written from.
type Region string

const (
	RegionUSEastOhio      Region = "USEastOhio"
	RegionUSWestOregon    Region = "USWestOregon"
	RegionMexicoCentral   Region = "MexicoCentral"
	RegionUSWestNVirginia Region = "USWestNVirginia"
)

var regions = []Region{RegionUSEastOhio, RegionUSWestOregon, RegionMexicoCentral, RegionUSWestNVirginia}

// ParseRegion maps a configured region name onto a Region. Matching ignores case.
func ParseRegion(s string) (Region, error) {
	for _, r := range regions {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return "", apperrors.InvalidArgument("unknown block region %q", s)
}

// Block is an immutable batch of ledger entry ids anchored to one chain stamp.
type Block struct {
	ID           string    `json:"id"`
	AppID        string    `json:"app_id"`
	Region       Region    `json:"region"`
	ChainStampID string    `json:"chain_stamp_id"`
	EntryIDs     []string  `json:"entry_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// BuildBlock validates the entry ids and returns a new block. Duplicate entry ids are dropped,
// keeping first-seen order.
func BuildBlock(appID string, region Region, entryIDs []string, chainStampID string) (Block, error) {
	if len(entryIDs) == 0 {
		return Block{}, apperrors.InvalidArgument("block requires at least one ledger entry")
	}
	if chainStampID == "" {
		return Block{}, apperrors.InvalidArgument("block requires a chain stamp")
	}

	seen := make(map[string]struct{}, len(entryIDs))
	ordered := make([]string, 0, len(entryIDs))
	for _, id := range entryIDs {
		if id == "" {
			return Block{}, apperrors.InvalidArgument("block entry id cannot be empty")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}

	return Block{
		ID:           NewID(),
		AppID:        appID,
		Region:       region,
		ChainStampID: chainStampID,
		EntryIDs:     ordered,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// IsTail reports whether the block's chain stamp is still the chain tip. stamp must be the
// current state of the block's own stamp.
func (b Block) IsTail(stamp ChainStamp) (bool, error) {
	if stamp.ID != b.ChainStampID {
		return false, apperrors.InvalidArgument("stamp %s does not anchor block %s", stamp.ID, b.ID)
	}
	return !stamp.HasChild(), nil
}

func (b Block) String() string {
	return fmt.Sprintf("Block{id=%s, region=%s, entries=%d}", b.ID, b.Region, len(b.EntryIDs))
}
