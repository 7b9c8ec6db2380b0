package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	stripeinfra "github.com/mvolkov/trackstore/internal/infra/stripe"
	catalogsvc "github.com/mvolkov/trackstore/internal/services/catalog"
)

type catalogStub struct {
	tracks map[string]catalogsvc.Track
}

func (s *catalogStub) Get(_ context.Context, trackID string) (catalogsvc.Track, error) {
	track, ok := s.tracks[trackID]
	if !ok {
		return catalogsvc.Track{}, catalogsvc.ErrTrackNotFound
	}
	return track, nil
}

type providerStub struct {
	lastInput stripeinfra.CheckoutSessionInput
	session   stripeinfra.CheckoutSession
	failWith  error
	calls     int
}

func (s *providerStub) CreateCheckoutSession(_ context.Context, in stripeinfra.CheckoutSessionInput) (stripeinfra.CheckoutSession, error) {
	s.calls++
	s.lastInput = in
	if s.failWith != nil {
		return stripeinfra.CheckoutSession{}, s.failWith
	}
	return s.session, nil
}

type limiterStub struct {
	allowed       bool
	retryAfterSec int64
}

func (s *limiterStub) AllowCheckout(_ context.Context, _ int64) (int64, bool, error) {
	return s.retryAfterSec, s.allowed, nil
}

func sellableTrack() catalogsvc.Track {
	return catalogsvc.Track{
		ID:       "track-1",
		Title:    "Night Drive",
		Artist:   "Neon Fields",
		Amount:   499,
		Currency: "usd",
		PriceRef: "price_123",
		Active:   true,
	}
}

func newTestService(catalog *catalogStub, provider *providerStub) *Service {
	return NewService(Dependencies{
		Catalog:  catalog,
		Provider: provider,
	}, Config{
		SuccessURL: "https://shop.example/done?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://shop.example/cancel",
	})
}

func TestCreateEmbedsCorrelationMetadata(t *testing.T) {
	catalog := &catalogStub{tracks: map[string]catalogsvc.Track{"track-1": sellableTrack()}}
	provider := &providerStub{session: stripeinfra.CheckoutSession{
		ID:          "cs_test_1",
		RedirectURL: "https://pay.example/cs_test_1",
	}}
	svc := newTestService(catalog, provider)

	result, err := svc.Create(context.Background(), 42, "track-1")
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if result.SessionID != "cs_test_1" {
		t.Fatalf("unexpected session id: %s", result.SessionID)
	}
	if result.RedirectURL != "https://pay.example/cs_test_1" {
		t.Fatalf("unexpected redirect url: %s", result.RedirectURL)
	}

	md := provider.lastInput.Metadata
	if md["buyer_id"] != "42" || md["track_id"] != "track-1" {
		t.Fatalf("correlation metadata missing: %v", md)
	}
	if provider.lastInput.PriceRef != "price_123" {
		t.Fatalf("unexpected price ref: %s", provider.lastInput.PriceRef)
	}
}

func TestCreateTrackNotFound(t *testing.T) {
	catalog := &catalogStub{tracks: map[string]catalogsvc.Track{}}
	provider := &providerStub{}
	svc := newTestService(catalog, provider)

	if _, err := svc.Create(context.Background(), 42, "missing"); !errors.Is(err, ErrTrackNotFound) {
		t.Fatalf("expected ErrTrackNotFound, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatal("provider must not be called for unknown tracks")
	}
}

func TestCreateInactiveTrack(t *testing.T) {
	track := sellableTrack()
	track.Active = false
	catalog := &catalogStub{tracks: map[string]catalogsvc.Track{"track-1": track}}
	provider := &providerStub{}
	svc := newTestService(catalog, provider)

	if _, err := svc.Create(context.Background(), 42, "track-1"); !errors.Is(err, ErrTrackInactive) {
		t.Fatalf("expected ErrTrackInactive, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatal("provider must not be called for inactive tracks")
	}
}

func TestCreatePriceNotConfigured(t *testing.T) {
	track := sellableTrack()
	track.PriceRef = ""
	catalog := &catalogStub{tracks: map[string]catalogsvc.Track{"track-1": track}}
	svc := newTestService(catalog, &providerStub{})

	if _, err := svc.Create(context.Background(), 42, "track-1"); !errors.Is(err, ErrPriceNotConfigured) {
		t.Fatalf("expected ErrPriceNotConfigured, got %v", err)
	}
}

func TestCreateProviderFailure(t *testing.T) {
	catalog := &catalogStub{tracks: map[string]catalogsvc.Track{"track-1": sellableTrack()}}
	provider := &providerStub{failWith: errors.New("dial tcp: timeout")}
	svc := newTestService(catalog, provider)

	if _, err := svc.Create(context.Background(), 42, "track-1"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestCreateProviderRejection(t *testing.T) {
	catalog := &catalogStub{tracks: map[string]catalogsvc.Track{"track-1": sellableTrack()}}
	provider := &providerStub{failWith: fmt.Errorf("%w: no such price: 'price_123'", stripeinfra.ErrRequestRejected)}
	svc := newTestService(catalog, provider)

	_, err := svc.Create(context.Background(), 42, "track-1")
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("a deterministic rejection must not look like a transient: %v", err)
	}
}

func TestCreateProviderMissingRedirect(t *testing.T) {
	catalog := &catalogStub{tracks: map[string]catalogsvc.Track{"track-1": sellableTrack()}}
	provider := &providerStub{session: stripeinfra.CheckoutSession{ID: "cs_test_2"}}
	svc := newTestService(catalog, provider)

	if _, err := svc.Create(context.Background(), 42, "track-1"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable for empty redirect, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(&catalogStub{}, &providerStub{})

	if _, err := svc.Create(context.Background(), 0, "track-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad buyer id, got %v", err)
	}
	if _, err := svc.Create(context.Background(), 42, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty track id, got %v", err)
	}
}

func TestCreateThrottled(t *testing.T) {
	catalog := &catalogStub{tracks: map[string]catalogsvc.Track{"track-1": sellableTrack()}}
	provider := &providerStub{}
	svc := newTestService(catalog, provider)
	svc.AttachRateLimiter(&limiterStub{allowed: false, retryAfterSec: 7})

	_, err := svc.Create(context.Background(), 42, "track-1")
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("expected ErrTooManyRequests, got %v", err)
	}

	var retryErr *RetryAfterError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected RetryAfterError, got %T", err)
	}
	if retryErr.RetryAfterSec != 7 {
		t.Fatalf("unexpected retry hint: %d", retryErr.RetryAfterSec)
	}
	if provider.calls != 0 {
		t.Fatal("throttled checkout must not reach the provider")
	}
}
