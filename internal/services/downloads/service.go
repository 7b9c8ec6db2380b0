package downloads

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	catalogsvc "github.com/mvolkov/trackstore/internal/services/catalog"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrNotEntitled        = errors.New("not entitled")
	ErrStorageUnavailable = errors.New("object storage unavailable")
)

const (
	minURLTTL     = time.Minute
	maxURLTTL     = time.Hour
	defaultURLTTL = 15 * time.Minute
)

type Entitlements interface {
	HasPaid(ctx context.Context, buyerID int64, trackID string) (bool, error)
}

type Catalog interface {
	Get(ctx context.Context, trackID string) (catalogsvc.Track, error)
}

type ObjectStorage interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Config struct {
	URLTTL         time.Duration
	PresignTimeout time.Duration
}

type Dependencies struct {
	Entitlements Entitlements
	Catalog      Catalog
	Storage      ObjectStorage
}

type Grant struct {
	URL       string
	ExpiresAt time.Time
	Filename  string
}

// Service issues signed download URLs. The entitlement check is the
// authorization gate: it runs before anything else, and every failure path
// that would reveal catalog state collapses into ErrNotEntitled.
type Service struct {
	entitlements Entitlements
	catalog      Catalog
	storage      ObjectStorage
	cfg          Config
	now          func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = defaultURLTTL
	}
	if cfg.URLTTL < minURLTTL {
		cfg.URLTTL = minURLTTL
	}
	if cfg.URLTTL > maxURLTTL {
		cfg.URLTTL = maxURLTTL
	}
	if cfg.PresignTimeout <= 0 {
		cfg.PresignTimeout = 5 * time.Second
	}

	return &Service{
		entitlements: deps.Entitlements,
		catalog:      deps.Catalog,
		storage:      deps.Storage,
		cfg:          cfg,
		now:          time.Now,
	}
}

func (s *Service) Get(ctx context.Context, buyerID int64, trackID string) (Grant, error) {
	trackID = strings.TrimSpace(trackID)
	if buyerID <= 0 || trackID == "" {
		return Grant{}, ErrValidation
	}
	if s.entitlements == nil || s.catalog == nil || s.storage == nil {
		return Grant{}, fmt.Errorf("download dependencies are not configured")
	}

	entitled, err := s.entitlements.HasPaid(ctx, buyerID, trackID)
	if err != nil {
		return Grant{}, fmt.Errorf("check entitlement: %w", err)
	}
	if !entitled {
		return Grant{}, ErrNotEntitled
	}

	track, err := s.catalog.Get(ctx, trackID)
	if err != nil {
		// An entitled buyer whose track vanished from the catalog still
		// gets the generic refusal; anything else leaks catalog state.
		if errors.Is(err, catalogsvc.ErrTrackNotFound) {
			return Grant{}, ErrNotEntitled
		}
		return Grant{}, fmt.Errorf("load track: %w", err)
	}
	if track.ObjectKey == "" {
		return Grant{}, ErrNotEntitled
	}

	presignCtx, cancel := context.WithTimeout(ctx, s.cfg.PresignTimeout)
	defer cancel()

	url, err := s.storage.PresignGet(presignCtx, track.ObjectKey, s.cfg.URLTTL)
	if err != nil {
		// Distinct from the authorization failure: callers may retry.
		return Grant{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return Grant{
		URL:       url,
		ExpiresAt: s.now().UTC().Add(s.cfg.URLTTL),
		Filename:  suggestedFilename(track),
	}, nil
}

func suggestedFilename(track catalogsvc.Track) string {
	ext := path.Ext(track.ObjectKey)
	if ext == "" {
		ext = ".mp3"
	}

	name := fmt.Sprintf("%s - %s%s", sanitizeFilePart(track.Artist), sanitizeFilePart(track.Title), ext)
	return strings.TrimSpace(name)
}

func sanitizeFilePart(part string) string {
	part = strings.TrimSpace(part)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "\"", "'")
	return replacer.Replace(part)
}
