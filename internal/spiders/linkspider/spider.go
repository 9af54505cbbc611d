// Package linkspider is a configurable spider that records page metadata and
// follows anchors.
package linkspider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// DefaultName is used when Config.Name is empty.
const DefaultName = "links"

const defaultMaxLinks = 200

// Config drives the spider.
type Config struct {
	Name       string   `mapstructure:"name"`
	StartURLs  []string `mapstructure:"start_urls"`
	Middleware []string `mapstructure:"middleware"`
	Processors []string `mapstructure:"processors"`
	// Follow enqueues discovered links.
	Follow bool `mapstructure:"follow"`
	// SameHost keeps followed links on the host of the page they came from.
	SameHost bool `mapstructure:"same_host"`
	// MaxLinks caps links recorded and followed per page.
	MaxLinks int `mapstructure:"max_links"`
}

// Spider implements crawler.Spider, crawler.MiddlewareDeclarer and
// crawler.ProcessorDeclarer.
type Spider struct {
	cfg Config
}

// New validates cfg and builds the spider.
func New(cfg Config) (*Spider, error) {
	if len(cfg.StartURLs) == 0 {
		return nil, errors.New("linkspider: at least one start url is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = defaultMaxLinks
	}
	return &Spider{cfg: cfg}, nil
}

// Name implements crawler.Spider.
func (s *Spider) Name() string { return s.cfg.Name }

// Middleware implements crawler.MiddlewareDeclarer.
func (s *Spider) Middleware() []string { return s.cfg.Middleware }

// Processors implements crawler.ProcessorDeclarer.
func (s *Spider) Processors() []string { return s.cfg.Processors }

// StartRequests implements crawler.Spider.
func (s *Spider) StartRequests(_ context.Context) ([]*crawler.Request, error) {
	seeds := make([]*crawler.Request, 0, len(s.cfg.StartURLs))
	for _, raw := range s.cfg.StartURLs {
		req, err := crawler.NewRequest(http.MethodGet, raw, nil)
		if err != nil {
			return nil, fmt.Errorf("build seed: %w", err)
		}
		seeds = append(seeds, req)
	}
	return seeds, nil
}

// Parse implements crawler.Spider.
func (s *Spider) Parse(ctx context.Context, resp *crawler.Response) ([]crawler.ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item := crawler.ItemFrom(
		"url", finalURL(resp),
		"status", resp.StatusCode,
	)
	if !resp.IsHTML() || len(resp.Body) == 0 {
		item.Set("content_type", resp.ContentType())
		return []crawler.ParseResult{crawler.Yield(item)}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	item.Set("title", strings.TrimSpace(doc.Find("title").First().Text()))
	desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	item.Set("description", strings.TrimSpace(desc))
	item.Set("h1", strings.TrimSpace(doc.Find("h1").First().Text()))

	links := s.extractLinks(resp, doc)
	urls := make([]string, len(links))
	for i, l := range links {
		urls[i] = l.URL
	}
	item.Set("links", urls)

	results := []crawler.ParseResult{crawler.Yield(item)}
	if s.cfg.Follow {
		for _, l := range links {
			results = append(results, crawler.Follow(l))
		}
	}
	return results, nil
}

func (s *Spider) extractLinks(resp *crawler.Response, doc *goquery.Document) []*crawler.Request {
	pageHost := hostOf(resp)
	seen := make(map[string]struct{})
	var links []*crawler.Request
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		child, err := resp.Follow(href)
		if err != nil {
			return true
		}
		if s.cfg.SameHost && child.Host() != pageHost {
			return true
		}
		if _, dup := seen[child.URL]; dup {
			return true
		}
		seen[child.URL] = struct{}{}
		links = append(links, child)
		return len(links) < s.cfg.MaxLinks
	})
	return links
}

func finalURL(resp *crawler.Response) string {
	if resp.URL != "" {
		return resp.URL
	}
	return resp.Request.URL
}

func hostOf(resp *crawler.Response) string {
	parsed, err := url.Parse(finalURL(resp))
	if err != nil {
		return resp.Request.Host()
	}
	return strings.ToLower(parsed.Hostname())
}
