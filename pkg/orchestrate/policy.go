package orchestrate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// Policy decides whether a source may be scraped at all. It is consulted
// once per source, before the first page request. A policy rejection is
// reported, not treated as a run failure.
type Policy interface {
	// Allow returns nil when the source may be fetched, or an error
	// wrapping scrape.ErrPolicyBlocked when it may not.
	Allow(ctx context.Context, cfg scrape.SourceConfig) error
}

// AllowAll permits every source.
type AllowAll struct{}

func (AllowAll) Allow(ctx context.Context, cfg scrape.SourceConfig) error { return nil }

// RobotsPolicy checks a host's robots.txt before a source is scraped. A
// missing or unreachable robots.txt permits the source, per convention.
// Fetched rule sets are kept per host for the lifetime of the policy.
type RobotsPolicy struct {
	// UserAgent is matched against robots.txt User-agent groups. The "*"
	// group applies when no specific group matches.
	UserAgent string

	// HTTPClient fetches robots.txt. Defaults to a client with a 10
	// second timeout.
	HTTPClient *http.Client

	mu    sync.Mutex
	rules map[string][]string // host -> disallowed path prefixes
}

// NewRobotsPolicy creates a robots.txt policy for the given user agent.
func NewRobotsPolicy(userAgent string) *RobotsPolicy {
	return &RobotsPolicy{
		UserAgent:  userAgent,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		rules:      make(map[string][]string),
	}
}

func (p *RobotsPolicy) Allow(ctx context.Context, cfg scrape.SourceConfig) error {
	pageURL := cfg.PageURL(1)
	u, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("%w: unparseable source url %q", scrape.ErrPolicyBlocked, pageURL)
	}

	disallowed, err := p.hostRules(ctx, u)
	if err != nil {
		// No usable robots.txt: the convention is to allow.
		log.Debug().Err(err).Str("host", u.Host).Msg("robots.txt unavailable, allowing source")
		return nil
	}

	for _, prefix := range disallowed {
		if prefix != "" && strings.HasPrefix(u.Path, prefix) {
			return fmt.Errorf("%w: robots.txt disallows %q for %q", scrape.ErrPolicyBlocked, u.Path, p.UserAgent)
		}
	}
	return nil
}

func (p *RobotsPolicy) hostRules(ctx context.Context, u *url.URL) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rules, ok := p.rules[u.Host]; ok {
		return rules, nil
	}

	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.UserAgent)

	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.rules[u.Host] = nil
		return nil, nil
	}

	rules := parseRobots(resp.Body, p.UserAgent)
	p.rules[u.Host] = rules
	return rules, nil
}

// parseRobots collects the Disallow prefixes of the best matching
// User-agent group: an exact or substring agent match wins over "*".
func parseRobots(r io.Reader, userAgent string) []string {
	agent := strings.ToLower(userAgent)

	var wildcard, matched []string
	inWildcard, inMatched, matchedSeen := false, false, false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			group := strings.ToLower(value)
			inWildcard = group == "*"
			inMatched = group != "*" && strings.Contains(agent, group)
			if inMatched {
				matchedSeen = true
			}
		case "disallow":
			if inMatched {
				matched = append(matched, value)
			} else if inWildcard {
				wildcard = append(wildcard, value)
			}
		}
	}

	if matchedSeen {
		return matched
	}
	return wildcard
}
