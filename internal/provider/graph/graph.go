// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/smtp-relay/internal/email"
	"github.com/shineum/smtp-relay/internal/provider"
)

const (
	defaultScope    = "https://graph.microsoft.com/.default"
	requestTimeout  = 30 * time.Second
	maxErrorBodyLen = 4096
)

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// Provider sends emails through the Graph sendMail endpoint of the configured
// sender mailbox, authenticating with OAuth2 client credentials.
type Provider struct {
	sendURL    string
	httpClient *http.Client
}

// New creates a Provider. Tokens are fetched and cached by the oauth2 transport;
// ctx governs token requests for the lifetime of the provider.
func New(ctx context.Context, cfg Config) *Provider {
	return newWithOverrides(ctx, cfg,
		"https://graph.microsoft.com/v1.0",
		fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID)),
	)
}

// newWithOverrides creates a Provider with custom endpoints, used for testing.
func newWithOverrides(ctx context.Context, cfg Config, graphBaseURL, tokenURL string) *Provider {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{defaultScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	client := cc.Client(ctx)
	client.Timeout = requestTimeout

	return &Provider{
		sendURL:    fmt.Sprintf("%s/users/%s/sendMail", graphBaseURL, url.PathEscape(cfg.Sender)),
		httpClient: client,
	}
}

// Send posts the message to sendMail once. Graph answers 202 with no body; the
// request-id header is used as the receipt.
func (p *Provider) Send(ctx context.Context, req *email.SendRequest) (*provider.Receipt, error) {
	bodyJSON, err := json.Marshal(buildSendMailRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return &provider.Receipt{ID: resp.Header.Get("request-id"), Raw: resp.Header.Clone()}, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	return nil, responseError(resp.StatusCode, body)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "graph"
}

// transportError reports connection and token failures. A rejected token request
// carries the identity platform's status and body.
func transportError(err error) *provider.APIError {
	apiErr := &provider.APIError{Provider: "graph", Payload: err.Error(), Err: err}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			apiErr.StatusCode = re.Response.StatusCode
		}
		if len(re.Body) > 0 {
			apiErr.Payload = string(re.Body)
		}
	}
	return apiErr
}

func responseError(statusCode int, body []byte) *provider.APIError {
	payload := string(body)

	var graphErr graphErrorResponse
	if err := json.Unmarshal(body, &graphErr); err == nil && graphErr.Error.Message != "" {
		payload = fmt.Sprintf("%s: %s", graphErr.Error.Code, graphErr.Error.Message)
	}

	return &provider.APIError{
		Provider:   "graph",
		StatusCode: statusCode,
		Payload:    payload,
		Err:        fmt.Errorf("graph API returned HTTP %d", statusCode),
	}
}
