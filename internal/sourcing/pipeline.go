// Package sourcing discovers candidate providers for a project and scrapes
// their contact details.
package sourcing

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/store"
)

// Config bounds a sourcing run.
type Config struct {
	MaxResults    int
	MaxCandidates int
	FetchTimeout  time.Duration
	DefaultScore  float64
	Concurrency   int
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = 20
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 10
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.DefaultScore <= 0 {
		c.DefaultScore = 0.7
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// RunResult summarizes a sourcing run.
type RunResult struct {
	CandidatesFound int  `json:"candidates_found"`
	Created         int  `json:"created"`
	Contacts        int  `json:"contacts"`
	Mocked          bool `json:"mocked"`
}

// Pipeline searches, enriches and persists providers.
type Pipeline struct {
	store    store.Store
	searcher Searcher
	scraper  ContactScraper
	cfg      Config
}

// NewPipeline creates a Pipeline. A nil searcher always uses mock
// candidates.
func NewPipeline(st store.Store, searcher Searcher, scraper ContactScraper, cfg Config) *Pipeline {
	return &Pipeline{store: st, searcher: searcher, scraper: scraper, cfg: cfg.withDefaults()}
}

// Run sources providers for project. Re-running is safe: providers already
// stored for a website are reused and not re-enriched.
func (p *Pipeline) Run(ctx context.Context, project *model.Project) (*RunResult, error) {
	log := zap.L().With(zap.String("project_id", project.ID))

	candidates, mocked := p.search(ctx, project)
	candidates = merge(seedCandidates(project.SeedProviders), candidates)
	if len(candidates) > p.cfg.MaxCandidates {
		candidates = candidates[:p.cfg.MaxCandidates]
	}

	res := &RunResult{CandidatesFound: len(candidates), Mocked: mocked}
	var created, contacts atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, c := range candidates {
		g.Go(func() error {
			isNew, n, err := p.persist(gctx, project.ID, c)
			if err != nil {
				return err
			}
			if isNew {
				created.Add(1)
			}
			contacts.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "sourcing: persist candidates")
	}

	res.Created = int(created.Load())
	res.Contacts = int(contacts.Load())
	log.Info("sourcing: run complete",
		zap.Int("candidates", res.CandidatesFound),
		zap.Int("created", res.Created),
		zap.Int("contacts", res.Contacts),
		zap.Bool("mocked", mocked),
	)
	return res, nil
}

func (p *Pipeline) search(ctx context.Context, project *model.Project) ([]Candidate, bool) {
	if p.searcher == nil {
		return MockCandidates(project.Type, project.City), true
	}

	query := strings.TrimSpace(project.Type + " " + firstNonEmpty(project.City, project.Address))
	found, err := p.searcher.Search(ctx, query, p.cfg.MaxResults)
	if err != nil {
		zap.L().Warn("sourcing: search unavailable, using mock candidates",
			zap.String("project_id", project.ID),
			zap.Error(err),
		)
		return MockCandidates(project.Type, project.City), true
	}
	if len(found) == 0 {
		zap.L().Info("sourcing: no search results, using mock candidates", zap.String("project_id", project.ID))
		return MockCandidates(project.Type, project.City), true
	}
	return found, false
}

// persist upserts the provider and, for a new one or one with no stored
// contacts, its scraped contacts.
func (p *Pipeline) persist(ctx context.Context, projectID string, c Candidate) (bool, int, error) {
	prov := &model.Provider{
		ProjectID:       projectID,
		Name:            firstNonEmpty(c.Name, Domain(c.Website), "Unknown"),
		Website:         c.Website,
		ServiceAreaText: c.Snippet,
		Score:           p.cfg.DefaultScore,
		EvidenceURLs:    []string{c.Website},
	}
	created, err := p.store.UpsertProvider(ctx, prov)
	if err != nil {
		return false, 0, err
	}
	if !created {
		// A provider left without contacts by an interrupted run is
		// enriched again; one that has contacts is left alone.
		existing, err := p.store.ListContacts(ctx, prov.ID)
		if err != nil {
			return false, 0, err
		}
		if len(existing) > 0 {
			return false, 0, nil
		}
	}

	found := p.enrich(ctx, c.Website)
	methods := contactMethods(prov.ID, c.Website, found)
	for i := range methods {
		if err := p.store.AddContact(ctx, &methods[i]); err != nil {
			return created, i, err
		}
	}
	return created, len(methods), nil
}

func (p *Pipeline) enrich(ctx context.Context, website string) Contacts {
	if p.scraper == nil {
		return Contacts{}
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	found, err := p.scraper.Scrape(ctx, website)
	if err != nil {
		zap.L().Debug("sourcing: enrichment failed", zap.String("website", website), zap.Error(err))
		return Contacts{}
	}
	return found
}

// contactMethods converts scraped contacts into rows, adding a disallowed
// placeholder email when none was found.
func contactMethods(providerID, website string, found Contacts) []model.ContactMethod {
	var out []model.ContactMethod
	for _, e := range found.Emails {
		out = append(out, model.ContactMethod{
			ProviderID: providerID, Kind: model.ChannelEmail, Value: e.Value,
			SourceURL: website, Confidence: e.Confidence, Allowed: true,
		})
	}
	if len(found.Emails) == 0 {
		out = append(out, model.ContactMethod{
			ProviderID: providerID, Kind: model.ChannelEmail, Value: "contact@" + Domain(website),
			SourceURL: website, Confidence: ConfidencePlaceholder, Allowed: false,
		})
	}
	for _, ph := range found.Phones {
		out = append(out, model.ContactMethod{
			ProviderID: providerID, Kind: model.ChannelSMS, Value: ph.Value,
			SourceURL: website, Confidence: ph.Confidence, Allowed: true,
		})
	}
	return out
}

func seedCandidates(seeds []model.SeedProvider) []Candidate {
	out := make([]Candidate, 0, len(seeds))
	for _, s := range seeds {
		if strings.TrimSpace(s.Website) == "" {
			continue
		}
		out = append(out, Candidate{Name: s.Name, Website: s.Website})
	}
	return out
}

// merge concatenates lists, dropping later entries for an already seen
// domain.
func merge(lists ...[]Candidate) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	for _, l := range lists {
		for _, c := range l {
			d := Domain(c.Website)
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, c)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
