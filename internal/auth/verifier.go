package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const verifyPath = "/v1/keys/verify"

// HTTPVerifier checks credentials against the hosted identity endpoint.
type HTTPVerifier struct {
	baseURL string
	http    *http.Client
}

func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, rawKey string) (*Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+verifyPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+rawKey)

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Verification{Valid: false}, nil
	default:
		return nil, fmt.Errorf("verifier status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var wire struct {
		Valid       bool     `json:"valid"`
		Plan        string   `json:"plan"`
		Permissions []string `json:"permissions"`
		UserID      string   `json:"userId"`
		OrgID       string   `json:"orgId"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode verifier response: %w", err)
	}
	return &Verification{
		Valid:       wire.Valid,
		Plan:        wire.Plan,
		Permissions: wire.Permissions,
		UserID:      wire.UserID,
		OrgID:       wire.OrgID,
	}, nil
}
