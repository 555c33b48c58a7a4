package sourcing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contactPage = `<html><head><title>Acme Roofing</title>
<script>var support = "tracker@analytics.io";</script></head>
<body>
  <nav><a href="mailto:Info@AcmeRoofing.com?subject=Quote">Email us</a></nav>
  <p>Call <a href="tel:+1-303-555-0100">(303) 555-0100</a> today.</p>
  <p>Estimates: estimates@acmeroofing.com or 720.555.0199</p>
  <p>Repeat: info@acmeroofing.com</p>
  <img src="logo@2x.png">
  <footer>hero@2x.png</footer>
</body></html>`

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestExtractContacts(t *testing.T) {
	t.Parallel()
	got := ExtractContacts(parse(t, contactPage))

	require.Len(t, got.Emails, 2)
	assert.Equal(t, FoundContact{Value: "Info@AcmeRoofing.com", Confidence: ConfidenceMailto}, got.Emails[0])
	assert.Equal(t, FoundContact{Value: "estimates@acmeroofing.com", Confidence: ConfidenceTextEmail}, got.Emails[1])

	require.Len(t, got.Phones, 2)
	assert.Equal(t, ConfidenceTel, got.Phones[0].Confidence)
	assert.Equal(t, "+1-303-555-0100", got.Phones[0].Value)
	assert.Equal(t, FoundContact{Value: "720.555.0199", Confidence: ConfidenceTextPhone}, got.Phones[1])
}

func TestExtractContacts_Empty(t *testing.T) {
	t.Parallel()
	got := ExtractContacts(parse(t, `<html><body><p>Welcome!</p></body></html>`))
	assert.Empty(t, got.Emails)
	assert.Empty(t, got.Phones)
}

func TestHTMLScraper(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "ContractrBot")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(contactPage)) //nolint:errcheck
	}))
	defer ts.Close()

	got, err := NewHTMLScraper(time.Second).Scrape(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Len(t, got.Emails, 2)
}

func TestHTMLScraper_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("cf-ray", "abc")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := NewHTMLScraper(time.Second).Scrape(context.Background(), ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()
	_, err = NewHTMLScraper(20 * time.Millisecond).Scrape(context.Background(), slow.URL)
	assert.Error(t, err)
}
