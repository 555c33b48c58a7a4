package sourcing

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/contractr/contractr/internal/model"
)

// Confidence assigned to scraped contacts by where they were found.
const (
	ConfidenceMailto      = 0.8
	ConfidenceTel         = 0.7
	ConfidenceTextEmail   = 0.6
	ConfidenceTextPhone   = 0.5
	ConfidencePlaceholder = 0.3

	maxContactsPerKind = 5
	maxBodyBytes       = 1 << 20
)

// FoundContact is a scraped address with its confidence.
type FoundContact struct {
	Value      string
	Confidence float64
}

// Contacts is what a scrape of a website yielded.
type Contacts struct {
	Emails []FoundContact
	Phones []FoundContact
}

// ContactScraper extracts contact details from a website.
type ContactScraper interface {
	Scrape(ctx context.Context, website string) (Contacts, error)
}

// HTMLScraper fetches a page and reads mailto/tel anchors plus addresses in
// the visible text.
type HTMLScraper struct {
	client    *http.Client
	userAgent string
}

// NewHTMLScraper creates a scraper whose requests time out after timeout.
func NewHTMLScraper(timeout time.Duration) *HTMLScraper {
	return &HTMLScraper{
		client:    &http.Client{Timeout: timeout},
		userAgent: "Mozilla/5.0 (compatible; ContractrBot/1.0)",
	}
}

func (s *HTMLScraper) Scrape(ctx context.Context, website string) (Contacts, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, website, nil)
	if err != nil {
		return Contacts{}, eris.Wrap(err, "scrape: create request")
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return Contacts{}, eris.Wrap(err, "scrape: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		if isBlocked(resp) {
			return Contacts{}, eris.Errorf("scrape: blocked (status %d)", resp.StatusCode)
		}
		return Contacts{}, eris.Errorf("scrape: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Contacts{}, eris.Wrap(err, "scrape: parse html")
	}
	return ExtractContacts(doc), nil
}

func isBlocked(resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	return resp.Header.Get("cf-ray") != "" || strings.EqualFold(resp.Header.Get("server"), "cloudflare")
}

var (
	textEmailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	textPhonePattern = regexp.MustCompile(`\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	assetSuffix      = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|svg|webp)$`)
)

// ExtractContacts reads contacts from a parsed page. Anchors rank above
// free text; duplicates keep the highest confidence.
func ExtractContacts(doc *goquery.Document) Contacts {
	emails := newCollector(model.ChannelEmail)
	phones := newCollector(model.ChannelSMS)

	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		addr, _, _ := strings.Cut(strings.TrimPrefix(href, "mailto:"), "?")
		emails.add(addr, ConfidenceMailto)
	})
	doc.Find(`a[href^="tel:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		phones.add(strings.TrimPrefix(href, "tel:"), ConfidenceTel)
	})

	body := doc.Find("body")
	body.Find("script, style, noscript").Remove()
	text := body.Text()
	for _, m := range textEmailPattern.FindAllString(text, -1) {
		emails.add(m, ConfidenceTextEmail)
	}
	for _, m := range textPhonePattern.FindAllString(text, -1) {
		phones.add(m, ConfidenceTextPhone)
	}

	return Contacts{Emails: emails.list(), Phones: phones.list()}
}

type collector struct {
	kind  model.Channel
	order []string
	best  map[string]FoundContact
}

func newCollector(kind model.Channel) *collector {
	return &collector{kind: kind, best: make(map[string]FoundContact)}
}

func (c *collector) add(value string, confidence float64) {
	value = strings.TrimSpace(value)
	switch c.kind {
	case model.ChannelEmail:
		if !model.IsValidEmail(value) || assetSuffix.MatchString(value) {
			return
		}
	case model.ChannelSMS:
		if !model.IsValidPhone(value) {
			return
		}
	}
	key := model.NormalizeAddress(c.kind, value)
	cur, ok := c.best[key]
	if !ok {
		c.order = append(c.order, key)
	}
	if !ok || confidence > cur.Confidence {
		c.best[key] = FoundContact{Value: value, Confidence: confidence}
	}
}

func (c *collector) list() []FoundContact {
	out := make([]FoundContact, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.best[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > maxContactsPerKind {
		out = out[:maxContactsPerKind]
	}
	return out
}
