package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"calagent/internal/calerr"
	appLog "calagent/internal/log"
)

// oauthConfig reads the installed-app client secret downloaded from the
// Google Cloud console.
func oauthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, &calerr.StoreError{Op: "auth", Kind: calerr.ErrStoreAuth, Err: fmt.Errorf("read credentials: %w", err)}
	}
	cfg, err := googleoauth.ConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return nil, &calerr.StoreError{Op: "auth", Kind: calerr.ErrStoreAuth, Err: err}
	}
	return cfg, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &calerr.StoreError{Op: "auth", Kind: calerr.ErrStoreAuth,
				Err: fmt.Errorf("no token at %s; complete the OAuth consent flow first", path)}
		}
		return nil, &calerr.StoreError{Op: "auth", Kind: calerr.ErrStoreAuth, Err: err}
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, &calerr.StoreError{Op: "auth", Kind: calerr.ErrStoreAuth, Err: fmt.Errorf("decode token: %w", err)}
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// savingSource persists every refreshed token so the next process start
// does not need a new consent.
type savingSource struct {
	mu   sync.Mutex
	path string
	last string
	src  oauth2.TokenSource
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := saveToken(s.path, tok); err != nil {
			appLog.Error("google token save failed", err, "path", s.path)
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}

// HTTPClient builds an authorized client from the credentials and token
// files. A missing or unreadable token is an ErrStoreAuth.
func HTTPClient(ctx context.Context, credentialsFile, tokenFile string) (*http.Client, error) {
	cfg, err := oauthConfig(credentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := loadToken(tokenFile)
	if err != nil {
		return nil, err
	}
	src := &savingSource{path: tokenFile, last: tok.AccessToken, src: cfg.TokenSource(ctx, tok)}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}
