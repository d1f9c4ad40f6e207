package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/go-crawl-listings/config"
	"github.com/gocolly/colly/v2"
)

// Retriever performs one network retrieval of a page.
type Retriever interface {
	Retrieve(ctx context.Context, target string) ([]byte, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, target string) ([]byte, error)

// Retrieve calls f.
func (f RetrieverFunc) Retrieve(ctx context.Context, target string) ([]byte, error) {
	return f(ctx, target)
}

// CollyRetriever fetches pages through a shared colly collector.
type CollyRetriever struct {
	collector *colly.Collector
}

// NewCollyRetriever builds the collector used for every page of a crawl.
func NewCollyRetriever(cfg *config.Config) (*CollyRetriever, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Workers(),
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Workers(),
		Delay:       cfg.RequestDelay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &CollyRetriever{collector: collector}, nil
}

type retrieval struct {
	body []byte
	err  error
}

// Retrieve visits target once. Any status outside 200-299 comes back as an
// ErrStatus. If ctx ends first the visit is abandoned and the collector's own
// request timeout bounds the leftover request.
func (r *CollyRetriever) Retrieve(ctx context.Context, target string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := r.collector.Clone()
	done := make(chan retrieval, 1)

	var (
		body   []byte
		status int
	)
	c.OnResponse(func(resp *colly.Response) {
		status = resp.StatusCode
		body = resp.Body
	})
	c.OnError(func(resp *colly.Response, err error) {
		if resp != nil {
			status = resp.StatusCode
		}
	})

	go func() {
		err := c.Visit(target)
		if err != nil {
			done <- retrieval{err: classifyError(err, status)}
			return
		}
		if status != 0 && (status < 200 || status >= 300) {
			done <- retrieval{err: classifyError(nil, status)}
			return
		}
		done <- retrieval{body: body}
	}()

	select {
	case <-ctx.Done():
		return nil, classifyError(ctx.Err(), 0)
	case res := <-done:
		return res.body, res.err
	}
}
