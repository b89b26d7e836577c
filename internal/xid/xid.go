package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

var billNumberSpace = big.NewInt(100_000_000)

// BillNumber returns a random 8-digit bill number. Uniqueness is enforced by
// the ledger on insert, not here.
func BillNumber() string {
	n, err := rand.Int(rand.Reader, billNumberSpace)
	if err != nil {
		return fmt.Sprintf("%08d", time.Now().UnixNano()%100_000_000)
	}
	return fmt.Sprintf("%08d", n.Int64())
}
