package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Page is a web page whose headlines are selected with a CSS selector.
// The selector should match anchor elements or elements containing one.
type Page struct {
	Name     string
	URL      string
	Selector string
}

// Scrape extracts headline links from plain HTML pages.
type Scrape struct {
	http  *httpClient
	env   Env
	pages []Page
}

// NewScrape creates a new scraping source.
func NewScrape(pages []Page, env Env) *Scrape {
	env = env.withDefaults()
	return &Scrape{
		http:  newHTTPClient(env.Limiter),
		env:   env,
		pages: pages,
	}
}

func (s *Scrape) Name() Kind              { return KindScrape }
func (s *Scrape) AuthorityScore() float64 { return 0.4 }

func (s *Scrape) Fetch(ctx context.Context, limit int) ([]Record, error) {
	var (
		all     []Record
		lastErr error
	)
	for _, page := range s.pages {
		records, err := s.scrapePage(ctx, page)
		if err != nil {
			s.env.Logger.Warn().Err(err).Str("page", page.Name).Msg("scrape page failed")
			lastErr = err
			continue
		}
		all = append(all, records...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return capLimit(all, limit), nil
}

func (s *Scrape) scrapePage(ctx context.Context, page Page) ([]Record, error) {
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %s: %w", page.Name, err)
	}

	resp, err := s.http.get(ctx, page.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", page.Name, err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", page.Name, err)
	}

	selector := page.Selector
	if selector == "" {
		selector = "h2 a, h3 a"
	}

	now := time.Now().UTC()
	seen := make(map[string]bool)
	var records []Record
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		link := sel
		if !sel.Is("a") {
			link = sel.Find("a").First()
		}
		title := strings.Join(strings.Fields(sel.Text()), " ")
		href, ok := link.Attr("href")
		if title == "" || !ok {
			return
		}

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] {
			return
		}
		seen[abs] = true

		local := s.env.Locality.Matches(title)
		records = append(records, Record{
			ID:         RecordID(KindScrape, page.Name+":"+abs),
			Source:     KindScrape,
			ExternalID: page.Name + ":" + abs,
			Title:      truncate(title, 280),
			URL:        abs,
			IsLocal:    local,
			IsGlobal:   !local,
			CreatedAt:  now,
			Metadata:   map[string]any{"page": page.Name},
		})
	})
	return records, nil
}
