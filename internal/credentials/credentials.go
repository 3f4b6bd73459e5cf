// Package credentials reads the agent's on-disk OAuth credential files. It
// is the single source of truth for the credential search list shared by
// the rate-limit probe and the auth/status request handler.
//
// Each candidate file is resolved relative to the user's home directory and
// tried in order; a missing file is not an error, only a reason to try the
// next candidate.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// KnownProviders are the provider names auth/status reports on, whether or
// not a credential file backs them. It mirrors the registry's well-known
// model-name-prefix providers plus the opencode aggregator fallback.
var KnownProviders = []string{"anthropic", "openai", "google", "mistral", "opencode"}

// Credential is one OAuth token triple read from a credential file.
type Credential struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the token's expiry has passed. A zero ExpiresAt
// (unknown expiry) is never considered expired.
func (c *Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

type credentialFile struct {
	relPath string
	extract func([]byte) (*Credential, error)
}

// searchList is tried in order; the first file that exists and parses wins.
var searchList = []credentialFile{
	{relPath: filepath.Join(".pi", "agent", "auth.json"), extract: extractPiAgent},
	{relPath: filepath.Join(".claude", ".credentials.json"), extract: extractClaudeCode},
}

// LoadFirst reads the first present, parseable credential file from the
// search list, relative to the user's home directory. An absent file is
// skipped rather than treated as a failure; an error is returned when the
// home directory can't be resolved, when no candidate file is present, or
// when every present file fails to read or parse.
func LoadFirst() (*Credential, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("credentials: resolve home dir: %w", err)
	}

	var lastErr error
	for _, cf := range searchList {
		path := filepath.Join(home, cf.relPath)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			lastErr = err
			continue
		}
		cred, err := cf.extract(data)
		if err != nil {
			lastErr = err
			continue
		}
		return cred, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("credentials: no credential file present")
}

// extractPiAgent parses .pi/agent/auth.json's anthropic.{access,refresh,expires} shape.
func extractPiAgent(data []byte) (*Credential, error) {
	var doc struct {
		Anthropic struct {
			Access  string `json:"access"`
			Refresh string `json:"refresh"`
			Expires int64  `json:"expires"`
		} `json:"anthropic"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("credentials: parse auth.json: %w", err)
	}
	if doc.Anthropic.Access == "" {
		return nil, fmt.Errorf("credentials: auth.json has no anthropic credential")
	}
	return &Credential{
		Provider:     "anthropic",
		AccessToken:  doc.Anthropic.Access,
		RefreshToken: doc.Anthropic.Refresh,
		ExpiresAt:    time.UnixMilli(doc.Anthropic.Expires),
	}, nil
}

// extractClaudeCode parses .claude/.credentials.json's
// claudeAiOauth.{accessToken,refreshToken,expiresAt} shape.
func extractClaudeCode(data []byte) (*Credential, error) {
	var doc struct {
		ClaudeAiOauth struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
			ExpiresAt    int64  `json:"expiresAt"`
		} `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("credentials: parse .credentials.json: %w", err)
	}
	if doc.ClaudeAiOauth.AccessToken == "" {
		return nil, fmt.Errorf("credentials: .credentials.json has no oauth credential")
	}
	return &Credential{
		Provider:     "anthropic",
		AccessToken:  doc.ClaudeAiOauth.AccessToken,
		RefreshToken: doc.ClaudeAiOauth.RefreshToken,
		ExpiresAt:    time.UnixMilli(doc.ClaudeAiOauth.ExpiresAt),
	}, nil
}
