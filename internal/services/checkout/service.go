package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	stripeinfra "github.com/mvolkov/trackstore/internal/infra/stripe"
	catalogsvc "github.com/mvolkov/trackstore/internal/services/catalog"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrTrackNotFound       = errors.New("track not found")
	ErrTrackInactive       = errors.New("track is not active")
	ErrPriceNotConfigured  = errors.New("track has no price configured")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderRejected    = errors.New("payment provider rejected the request")
	ErrTooManyRequests     = errors.New("too many checkout requests")
)

type Catalog interface {
	Get(ctx context.Context, trackID string) (catalogsvc.Track, error)
}

type Provider interface {
	CreateCheckoutSession(ctx context.Context, in stripeinfra.CheckoutSessionInput) (stripeinfra.CheckoutSession, error)
}

type RateLimiter interface {
	AllowCheckout(ctx context.Context, buyerID int64) (int64, bool, error)
}

type Config struct {
	SuccessURL      string
	CancelURL       string
	ProviderTimeout time.Duration
}

type Dependencies struct {
	Catalog  Catalog
	Provider Provider
}

type Result struct {
	SessionID   string
	RedirectURL string
}

// RetryAfterError carries the wait hint for a throttled checkout attempt.
type RetryAfterError struct {
	RetryAfterSec int64
}

func (e *RetryAfterError) Error() string {
	return "too many checkout requests"
}

func (e *RetryAfterError) Is(target error) bool {
	return target == ErrTooManyRequests
}

// Service issues provider-hosted checkout sessions. The buyer and track ids
// ride along as session metadata so the completion webhook can be correlated
// back without any local pending state.
type Service struct {
	catalog  Catalog
	provider Provider
	limiter  RateLimiter
	cfg      Config
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}

	return &Service{
		catalog:  deps.Catalog,
		provider: deps.Provider,
		cfg:      cfg,
	}
}

func (s *Service) AttachRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

func (s *Service) Create(ctx context.Context, buyerID int64, trackID string) (Result, error) {
	if buyerID <= 0 {
		return Result{}, ErrValidation
	}
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return Result{}, ErrValidation
	}
	if s.catalog == nil || s.provider == nil {
		return Result{}, fmt.Errorf("checkout dependencies are not configured")
	}

	if s.limiter != nil {
		retryAfterSec, allowed, err := s.limiter.AllowCheckout(ctx, buyerID)
		if err != nil {
			return Result{}, fmt.Errorf("checkout rate limit: %w", err)
		}
		if !allowed {
			return Result{}, &RetryAfterError{RetryAfterSec: retryAfterSec}
		}
	}

	track, err := s.catalog.Get(ctx, trackID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrTrackNotFound) {
			return Result{}, ErrTrackNotFound
		}
		if errors.Is(err, catalogsvc.ErrValidation) {
			return Result{}, ErrValidation
		}
		return Result{}, fmt.Errorf("load track: %w", err)
	}
	if !track.Active {
		return Result{}, ErrTrackInactive
	}
	if track.PriceRef == "" {
		return Result{}, ErrPriceNotConfigured
	}

	providerCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	session, err := s.provider.CreateCheckoutSession(providerCtx, stripeinfra.CheckoutSessionInput{
		PriceRef:   track.PriceRef,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		Metadata: map[string]string{
			"buyer_id": strconv.FormatInt(buyerID, 10),
			"track_id": track.ID,
		},
	})
	if err != nil {
		// A deterministic 4xx refusal (stale price ref, invalid params)
		// will not be cured by retrying; everything else is a transient.
		if errors.Is(err, stripeinfra.ErrRequestRejected) {
			return Result{}, fmt.Errorf("%w: %v", ErrProviderRejected, err)
		}
		// Not retried here: the buyer retries by re-initiating checkout.
		return Result{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if session.RedirectURL == "" {
		return Result{}, fmt.Errorf("%w: provider returned no redirect url", ErrProviderUnavailable)
	}

	return Result{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
	}, nil
}
