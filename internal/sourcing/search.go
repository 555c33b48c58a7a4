package sourcing

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/contractr/contractr/internal/resilience"
	"github.com/contractr/contractr/pkg/serpapi"
)

// Candidate is a business found by search or supplied by the client.
type Candidate struct {
	Name    string
	Website string
	Snippet string
}

// Searcher finds candidate businesses for a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
}

// SerpSearcher searches Google through SerpAPI. Calls are throttled and
// guarded by a circuit breaker so a failing upstream is skipped quickly.
type SerpSearcher struct {
	client  serpapi.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	timeout time.Duration
}

// NewSerpSearcher creates a SerpSearcher allowing perSecond requests.
func NewSerpSearcher(client serpapi.Client, perSecond float64, timeout time.Duration) *SerpSearcher {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &SerpSearcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:             "serpapi",
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
		}),
		timeout: timeout,
	}
}

func (s *SerpSearcher) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "sourcing: search rate limit")
	}

	resp, err := resilience.Execute(ctx, s.breaker, func(ctx context.Context) (*serpapi.SearchResponse, error) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return s.client.Search(ctx, query, serpapi.WithNum(limit))
	})
	if err != nil {
		return nil, eris.Wrap(err, "sourcing: search")
	}

	out := make([]Candidate, 0, len(resp.OrganicResults))
	for _, r := range resp.OrganicResults {
		if IsListicle(r.Title, r.Link) {
			continue
		}
		out = append(out, Candidate{Name: r.Title, Website: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}

// IsListicle reports whether a result is a ranking or review article rather
// than a business site.
func IsListicle(title, link string) bool {
	if link == "" {
		return true
	}
	t := strings.ToLower(title)
	if strings.Contains(t, "best ") || strings.Contains(t, "top ") || strings.Contains(t, "review") {
		return true
	}
	return strings.Contains(link, "best-") || strings.Contains(link, "top-")
}

// MockCandidates synthesizes placeholder candidates when search is
// unavailable.
func MockCandidates(serviceType, city string) []Candidate {
	svc := strings.ToLower(strings.TrimSpace(serviceType))
	if svc == "" {
		svc = "contractor"
	}
	town := strings.TrimSpace(city)
	if town == "" {
		town = "Local"
	}
	slugSvc := slug(svc)
	slugCity := slug(town)
	title := strings.ToUpper(svc[:1]) + svc[1:]

	return []Candidate{
		{
			Name:    fmt.Sprintf("%s %s Pro", town, svc),
			Website: fmt.Sprintf("https://%s-%s.com", slugCity, slugSvc),
			Snippet: fmt.Sprintf("Professional %s services in %s. Licensed and insured.", svc, town),
		},
		{
			Name:    fmt.Sprintf("Elite %s Services", title),
			Website: fmt.Sprintf("https://elite-%s-%s.com", slugSvc, slugCity),
			Snippet: fmt.Sprintf("Highly rated %s company serving %s. Fast response time.", svc, town),
		},
		{
			Name:    fmt.Sprintf("%s Local %s", town, title),
			Website: fmt.Sprintf("https://local-%s.com", slugSvc),
			Snippet: fmt.Sprintf("Local %s experts. Competitive pricing. 24/7 availability.", svc),
		},
	}
}

func slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

// Domain returns the host of a website without a leading "www.".
func Domain(website string) string {
	u, err := url.Parse(strings.TrimSpace(website))
	host := ""
	if err == nil {
		host = u.Hostname()
	}
	if host == "" {
		host = strings.TrimPrefix(strings.TrimPrefix(website, "https://"), "http://")
		host, _, _ = strings.Cut(host, "/")
	}
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
