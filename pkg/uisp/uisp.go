// Package uisp loads the network topology from the NMS REST API or from a
// JSON snapshot on disk.
package uisp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"bracket-qos/pkg/config"
	"bracket-qos/pkg/model"
)

// Source supplies one topology snapshot per call.
type Source interface {
	Fetch(ctx context.Context) (model.Topology, error)
}

// NewSource picks the file source when a topology file is configured and
// the NMS client otherwise.
func NewSource(cfg config.Config) Source {
	if cfg.TopologyFile != "" {
		return FileSource{Path: cfg.TopologyFile}
	}
	return NewClient(cfg.NMSURL, cfg.NMSKey)
}

// Client talks to the NMS v2.1 API.
type Client struct {
	BaseURL string
	Key     string
	HTTP    *http.Client
}

func NewClient(baseURL, key string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Key:     key,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Fetch downloads sites, devices and data-links concurrently.
func (c *Client) Fetch(ctx context.Context) (model.Topology, error) {
	var topo model.Topology
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.get(ctx, "sites", &topo.Sites) })
	g.Go(func() error { return c.get(ctx, "devices?withInterfaces=true&authorized=true", &topo.Devices) })
	g.Go(func() error { return c.get(ctx, "data-links", &topo.DataLinks) })
	if err := g.Wait(); err != nil {
		return model.Topology{}, err
	}
	klog.Infof("uisp: %d sites, %d devices, %d data-links", len(topo.Sites), len(topo.Devices), len(topo.DataLinks))
	return topo, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/"+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-auth-token", c.Key)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("nms %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("nms %s: status %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nms %s: decode: %w", path, err)
	}
	return nil
}

// FileSource reads a snapshot with "sites", "devices" and "data_links".
type FileSource struct {
	Path string
}

func (f FileSource) Fetch(context.Context) (model.Topology, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return model.Topology{}, fmt.Errorf("read topology: %w", err)
	}
	var topo model.Topology
	if err := json.Unmarshal(b, &topo); err != nil {
		return model.Topology{}, fmt.Errorf("decode topology %s: %w", f.Path, err)
	}
	return topo, nil
}
