package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bracket-qos/pkg/auth"
	"bracket-qos/pkg/model"
)

// tokenTTL is the lifetime of each bus request token.
const tokenTTL = 5 * time.Minute

// ManagerClient posts reports to the manager bus and fetches overrides from
// it. It implements planner.Reporter and limits.Fetcher.
type ManagerClient struct {
	BaseURL string
	Signer  *auth.Signer
	HTTP    *http.Client
}

func NewManagerClient(baseURL string, signer *auth.Signer) *ManagerClient {
	return &ManagerClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Signer:  signer,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *ManagerClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.Signer.Generate("shaperd", tokenTTL)
	if err != nil {
		return fmt.Errorf("sign bus token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *ManagerClient) ReportTree(ctx context.Context, r model.TreeReport) error {
	return c.do(ctx, http.MethodPost, "/bus/tree", r, nil)
}

func (c *ManagerClient) ReportDuplicates(ctx context.Context, r model.DuplicateIPReport) error {
	return c.do(ctx, http.MethodPost, "/bus/duplicate_ip", r, nil)
}

func (c *ManagerClient) ReportUnmapped(ctx context.Context, r model.UnmappedReport) error {
	return c.do(ctx, http.MethodPost, "/bus/unmapped_clients", r, nil)
}

func (c *ManagerClient) FetchShaperConfig(ctx context.Context) (model.ShaperConfig, error) {
	var cfg model.ShaperConfig
	if err := c.do(ctx, http.MethodGet, "/bus/site_config", nil, &cfg); err != nil {
		return model.ShaperConfig{}, fmt.Errorf("fetch site config: %w", err)
	}
	return cfg, nil
}
