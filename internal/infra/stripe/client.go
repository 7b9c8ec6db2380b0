package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"

	"github.com/mvolkov/trackstore/internal/infra/httpclient"
)

const defaultTimeout = 10 * time.Second

// ErrRequestRejected marks a deterministic provider refusal (4xx): the same
// request retried will fail the same way.
var ErrRequestRejected = errors.New("stripe rejected the request")

type Config struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
}

// Client is the payment provider collaborator. Checkout sessions are created
// against the Stripe API; inbound webhooks are authenticated with the shared
// webhook secret before any payload is parsed.
type Client struct {
	api           *stripeclient.API
	webhookSecret string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	api := &stripeclient.API{}
	api.Init(cfg.SecretKey, stripego.NewBackends(httpclient.New(timeout)))

	return &Client{
		api:           api,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
	}, nil
}

type CheckoutSessionInput struct {
	PriceRef   string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type CheckoutSession struct {
	ID          string
	RedirectURL string
}

func (c *Client) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (CheckoutSession, error) {
	if c == nil || c.api == nil {
		return CheckoutSession{}, fmt.Errorf("stripe client is not configured")
	}
	if strings.TrimSpace(in.PriceRef) == "" {
		return CheckoutSession{}, fmt.Errorf("price ref is required")
	}

	params := &stripego.CheckoutSessionParams{
		Params: stripego.Params{Context: ctx},
		Mode:   stripego.String(string(stripego.CheckoutSessionModePayment)),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				Price:    stripego.String(in.PriceRef),
				Quantity: stripego.Int64(1),
			},
		},
		SuccessURL: stripego.String(in.SuccessURL),
		CancelURL:  stripego.String(in.CancelURL),
	}
	for key, value := range in.Metadata {
		params.AddMetadata(key, value)
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
			return CheckoutSession{}, fmt.Errorf("%w: %v", ErrRequestRejected, err)
		}
		return CheckoutSession{}, fmt.Errorf("create stripe checkout session: %w", err)
	}

	return CheckoutSession{
		ID:          sess.ID,
		RedirectURL: sess.URL,
	}, nil
}
