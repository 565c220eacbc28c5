// Package refcode generates the identifiers customers copy around: ref codes
// that tie payment evidence to an order, and tracking numbers for custom orders.
// Codes are high-entropy but not guaranteed unique; owners check the store.
package refcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	RefPrefix      = "BOT"
	TrackingPrefix = "TRK"
	suffixLen      = 6
)

// alphabet drops 0/O and 1/I so codes survive being read over the phone.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var ErrExhausted = errors.New("refcode: no free code after max attempts")

type Generator interface {
	RefCode() string
	TrackingNumber() string
}

// Random is the production generator: prefix, base36 millisecond timestamp,
// random suffix.
type Random struct {
	Now func() time.Time
}

func New() *Random {
	return &Random{Now: time.Now}
}

func (g *Random) RefCode() string {
	return g.code(RefPrefix)
}

func (g *Random) TrackingNumber() string {
	return g.code(TrackingPrefix)
}

func (g *Random) code(prefix string) string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	ts := strings.ToUpper(strconv.FormatInt(now().UnixMilli(), 36))
	return prefix + "-" + ts + "-" + randomSuffix(suffixLen)
}

func randomSuffix(n int) string {
	var b strings.Builder
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(fmt.Sprintf("refcode: read random: %v", err))
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}

// Unique draws codes from next until exists reports a free one.
func Unique(ctx context.Context, next func() string, exists func(context.Context, string) (bool, error), attempts int) (string, error) {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code := next()
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrExhausted
}
