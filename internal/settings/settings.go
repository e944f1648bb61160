// Package settings manages runtime-editable configuration persisted in the
// settings table. Values stored there override the config file defaults.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/reelsync/internal/encryption"
)

// Setting keys.
const (
	keyListingURL      = "listing.url"
	keyListingToken    = "listing.token"
	keyRoot            = "library.root"
	keyCatalogAPIKey   = "catalog.api_key"
	keyCatalogLanguage = "catalog.language"
	keyCatalogProxy    = "catalog.proxy"
	keyImageBaseURL    = "catalog.image_base_url"
	keyRequestDelayMS  = "catalog.request_delay_ms"
	keyRetryFailed     = "scan.retry_failed"
)

const mask = "********"

// ErrNotConfigured reports which required settings are missing.
type ErrNotConfigured struct {
	Missing []string
}

func (e *ErrNotConfigured) Error() string {
	return "not configured: " + strings.Join(e.Missing, ", ")
}

// Settings is the effective runtime configuration.
type Settings struct {
	ListingURL      string        `json:"listing_url"`
	ListingToken    string        `json:"listing_token"`
	Root            string        `json:"root"`
	CatalogAPIKey   string        `json:"catalog_api_key"`
	CatalogLanguage string        `json:"catalog_language"`
	CatalogProxy    string        `json:"catalog_proxy"`
	ImageBaseURL    string        `json:"image_base_url"`
	RequestDelay    time.Duration `json:"-"`
	RequestDelayMS  int64         `json:"request_delay_ms"`
	RetryFailed     bool          `json:"retry_failed"`
}

// Validate returns *ErrNotConfigured when the listing service or the
// catalog key is missing.
func (s Settings) Validate() error {
	var missing []string
	if strings.TrimSpace(s.ListingURL) == "" {
		missing = append(missing, "listing url")
	}
	if strings.TrimSpace(s.CatalogAPIKey) == "" {
		missing = append(missing, "catalog api key")
	}
	if len(missing) > 0 {
		return &ErrNotConfigured{Missing: missing}
	}
	return nil
}

// Masked returns a copy with secrets hidden, for API responses.
func (s Settings) Masked() Settings {
	if s.ListingToken != "" {
		s.ListingToken = mask
	}
	if s.CatalogAPIKey != "" {
		s.CatalogAPIKey = mask
	}
	return s
}

// Update is a partial change; nil fields are left untouched. Sending the
// mask string for a secret also leaves it untouched.
type Update struct {
	ListingURL      *string `json:"listing_url"`
	ListingToken    *string `json:"listing_token"`
	Root            *string `json:"root"`
	CatalogAPIKey   *string `json:"catalog_api_key"`
	CatalogLanguage *string `json:"catalog_language"`
	CatalogProxy    *string `json:"catalog_proxy"`
	ImageBaseURL    *string `json:"image_base_url"`
	RequestDelayMS  *int64  `json:"request_delay_ms"`
	RetryFailed     *bool   `json:"retry_failed"`
}

// ValueStore is the subset of the metadata store used for settings.
type ValueStore interface {
	GetGlobalValue(ctx context.Context, key string) (string, bool, error)
	SetGlobalValues(ctx context.Context, values map[string]string) error
}

// Service reads and writes runtime settings.
type Service struct {
	store     ValueStore
	encryptor *encryption.Encryptor
	defaults  Settings
}

// NewService creates a settings service. defaults come from the config file.
func NewService(store ValueStore, encryptor *encryption.Encryptor, defaults Settings) *Service {
	defaults.RequestDelayMS = defaults.RequestDelay.Milliseconds()
	return &Service{store: store, encryptor: encryptor, defaults: defaults}
}

// Get returns the effective settings: stored values over file defaults.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	out := s.defaults

	strs := []struct {
		key    string
		dst    *string
		secret bool
	}{
		{keyListingURL, &out.ListingURL, false},
		{keyListingToken, &out.ListingToken, true},
		{keyRoot, &out.Root, false},
		{keyCatalogAPIKey, &out.CatalogAPIKey, true},
		{keyCatalogLanguage, &out.CatalogLanguage, false},
		{keyCatalogProxy, &out.CatalogProxy, false},
		{keyImageBaseURL, &out.ImageBaseURL, false},
	}
	for _, f := range strs {
		v, ok, err := s.store.GetGlobalValue(ctx, f.key)
		if err != nil {
			return Settings{}, err
		}
		if !ok {
			continue
		}
		if f.secret {
			if v, err = s.encryptor.Decrypt(v); err != nil {
				return Settings{}, fmt.Errorf("decrypting %s: %w", f.key, err)
			}
		}
		*f.dst = v
	}

	if v, ok, err := s.store.GetGlobalValue(ctx, keyRequestDelayMS); err != nil {
		return Settings{}, err
	} else if ok {
		if ms, perr := strconv.ParseInt(v, 10, 64); perr == nil && ms >= 0 {
			out.RequestDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok, err := s.store.GetGlobalValue(ctx, keyRetryFailed); err != nil {
		return Settings{}, err
	} else if ok {
		out.RetryFailed = v == "true" || v == "1"
	}

	out.RequestDelayMS = out.RequestDelay.Milliseconds()
	if out.Root == "" {
		out.Root = "/"
	}
	return out, nil
}

// Apply persists an update in one transaction.
func (s *Service) Apply(ctx context.Context, u Update) error {
	values := make(map[string]string)

	plain := map[string]*string{
		keyListingURL:      u.ListingURL,
		keyRoot:            u.Root,
		keyCatalogLanguage: u.CatalogLanguage,
		keyCatalogProxy:    u.CatalogProxy,
		keyImageBaseURL:    u.ImageBaseURL,
	}
	for key, v := range plain {
		if v != nil {
			values[key] = strings.TrimSpace(*v)
		}
	}

	secrets := map[string]*string{
		keyListingToken:  u.ListingToken,
		keyCatalogAPIKey: u.CatalogAPIKey,
	}
	for key, v := range secrets {
		if v == nil || *v == mask {
			continue
		}
		sealed, err := s.encryptor.Encrypt(strings.TrimSpace(*v))
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", key, err)
		}
		values[key] = sealed
	}

	if u.RequestDelayMS != nil {
		if *u.RequestDelayMS < 0 {
			return errors.New("request_delay_ms must not be negative")
		}
		values[keyRequestDelayMS] = strconv.FormatInt(*u.RequestDelayMS, 10)
	}
	if u.RetryFailed != nil {
		values[keyRetryFailed] = strconv.FormatBool(*u.RetryFailed)
	}

	if len(values) == 0 {
		return nil
	}
	return s.store.SetGlobalValues(ctx, values)
}
