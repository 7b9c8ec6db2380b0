package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	checkoutMinuteWindow = time.Minute
	checkout10SecWindow  = 10 * time.Second
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter applies fixed windows per buyer to checkout-session issuance.
// Each hosted session is a real call to the payment provider, so bursts are
// throttled before they leave the process.
type Limiter struct {
	store     WindowStore
	perMinute int
	per10Sec  int
}

func NewLimiter(store WindowStore, perMinute, per10Sec int) *Limiter {
	if perMinute < 0 {
		perMinute = 0
	}
	if per10Sec < 0 {
		per10Sec = 0
	}

	return &Limiter{
		store:     store,
		perMinute: perMinute,
		per10Sec:  per10Sec,
	}
}

// AllowCheckout returns whether the buyer may open another checkout session,
// and if not, how long to wait.
func (l *Limiter) AllowCheckout(ctx context.Context, buyerID int64) (int64, bool, error) {
	if buyerID <= 0 {
		return 0, false, fmt.Errorf("invalid buyer id")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)

	if l.perMinute > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, minuteKey(buyerID), checkoutMinuteWindow)
		if err != nil {
			return 0, false, err
		}
		if count > int64(l.perMinute) {
			retryAfterSec = maxInt64(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if l.per10Sec > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, tenSecKey(buyerID), checkout10SecWindow)
		if err != nil {
			return 0, false, err
		}
		if count > int64(l.per10Sec) {
			retryAfterSec = maxInt64(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if retryAfterSec > 0 {
		return retryAfterSec, false, nil
	}

	return 0, true, nil
}

func minuteKey(buyerID int64) string {
	return "rate:checkout:min:" + strconv.FormatInt(buyerID, 10)
}

func tenSecKey(buyerID int64) string {
	return "rate:checkout:10s:" + strconv.FormatInt(buyerID, 10)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
