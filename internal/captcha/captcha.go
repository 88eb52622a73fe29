// Package captcha verifies bot-check tokens before a browser session is issued.
package captcha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gas_oracle/internal/apperr"

	"github.com/go-resty/resty/v2"
)

// Verifier checks a token produced by the browser widget.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// NoopVerifier accepts every token. It is used when no captcha secret is configured.
type NoopVerifier struct{}

func (NoopVerifier) Verify(context.Context, string, string) error { return nil }

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Recaptcha verifies tokens against a reCAPTCHA compatible siteverify endpoint.
type Recaptcha struct {
	http     *resty.Client
	url      string
	secret   string
	minScore float64
}

// NewRecaptcha creates a verifier. minScore only applies to v3 responses, which
// carry a score.
func NewRecaptcha(url, secret string, minScore float64, timeout time.Duration) *Recaptcha {
	return &Recaptcha{
		http:     resty.New().SetTimeout(timeout),
		url:      url,
		secret:   secret,
		minScore: minScore,
	}
}

func (r *Recaptcha) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return apperr.BadRequest("The captcha token was not provided.")
	}

	form := map[string]string{"secret": r.secret, "response": token}
	if remoteIP != "" {
		form["remoteip"] = remoteIP
	}

	var out siteverifyResponse
	resp, err := r.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		Post(r.url)
	if err != nil {
		return apperr.Internal("Error while trying to verify the captcha.", err)
	}
	if resp.IsError() {
		return apperr.Internal("Error while trying to verify the captcha.",
			fmt.Errorf("siteverify responded %s", resp.Status()))
	}

	if !out.Success {
		return apperr.New(apperr.KindUnauthorized, "Failed to verify the captcha.",
			fmt.Errorf("siteverify: %s", strings.Join(out.ErrorCodes, ",")))
	}
	if out.Score != nil && *out.Score < r.minScore {
		return apperr.New(apperr.KindUnauthorized, "Failed to verify the captcha.",
			fmt.Errorf("score %.2f below %.2f", *out.Score, r.minScore))
	}
	return nil
}
