package currency

import (
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// Rate converts an amount in Base into Quote: quote = base * Rate.
type Rate struct {
	Hash       string          `json:"hash"`
	Base       Currency        `json:"base"`
	Quote      Currency        `json:"quote"`
	Rate       decimal.Decimal `json:"rate"`
	RecordedAt time.Time       `json:"recorded_at"`
	AppID      string          `json:"app_id"`
}

// PairHash returns the hex SHA3-256 digest of the ordered pair. A NUL separator keeps
// ("AB","C") and ("A","BC") apart. PairHash(a, b) != PairHash(b, a).
func PairHash(base, quote Currency) string {
	h := sha3.New256()
	h.Write([]byte(base))
	h.Write([]byte{0})
	h.Write([]byte(quote))
	return hex.EncodeToString(h.Sum(nil))
}
