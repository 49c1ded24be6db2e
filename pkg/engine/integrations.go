package engine

import (
	"context"
	"sort"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/apiweave/apiweave/pkg/errmap"
	"github.com/apiweave/apiweave/pkg/model/mintegration"
)

const queryListIntegrations = `
query ListIntegrations($limit: Int!, $offset: Int!) {
  listIntegrations(limit: $limit, offset: $offset) {
    items { id urlHost urlPath documentationUrl documentation documentationPending credentials createdAt updatedAt }
    total
  }
}`

const mutationUpsertIntegration = `
mutation UpsertIntegration($id: ID!, $input: IntegrationInput!, $mode: UpsertMode!) {
  upsertIntegration(id: $id, input: $input, mode: $mode) {
    id urlHost urlPath documentationUrl documentation documentationPending credentials createdAt updatedAt
  }
}`

const queryGetIntegration = `
query GetIntegration($id: ID!) {
  getIntegration(id: $id) {
    id urlHost urlPath documentationUrl documentation documentationPending credentials createdAt updatedAt
  }
}`

type ListIntegrationsResult struct {
	Items []mintegration.Integration `json:"items"`
	Total int                        `json:"total"`
}

func (c *Client) ListIntegrations(ctx context.Context, limit, offset int) (ListIntegrationsResult, error) {
	if limit <= 0 {
		limit = 100
	}
	var out struct {
		ListIntegrations ListIntegrationsResult `json:"listIntegrations"`
	}
	err := c.do(ctx, "listIntegrations", queryListIntegrations, map[string]any{
		"limit":  limit,
		"offset": offset,
	}, &out)
	if err != nil {
		return ListIntegrationsResult{}, err
	}
	return out.ListIntegrations, nil
}

func (c *Client) UpsertIntegration(ctx context.Context, id string, in mintegration.Integration, mode mintegration.UpsertMode) (mintegration.Integration, error) {
	in.ID = mintegration.SanitizeID(id)
	if err := in.Validate(); err != nil {
		return mintegration.Integration{}, errmap.New(errmap.CodeValidation, err.Error(), err)
	}
	var out struct {
		UpsertIntegration mintegration.Integration `json:"upsertIntegration"`
	}
	err := c.do(ctx, "upsertIntegration", mutationUpsertIntegration, map[string]any{
		"id":    in.ID,
		"input": in,
		"mode":  mode.String(),
	}, &out)
	if err != nil {
		return mintegration.Integration{}, err
	}
	return out.UpsertIntegration, nil
}

func (c *Client) GetIntegration(ctx context.Context, id string) (mintegration.Integration, error) {
	var out struct {
		GetIntegration mintegration.Integration `json:"getIntegration"`
	}
	err := c.do(ctx, "getIntegration", queryGetIntegration, map[string]any{"id": id}, &out)
	if err != nil {
		return mintegration.Integration{}, err
	}
	return out.GetIntegration, nil
}

// PollIntegrations waits until documentation ingestion has settled for every
// given integration, polling each concurrently.
func (c *Client) PollIntegrations(ctx context.Context, ids []string, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				integration, err := c.GetIntegration(ctx, id)
				if err != nil {
					return err
				}
				if !integration.DocumentationPending {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

// FilterIntegrations ranks integrations against a fuzzy query over id and
// host. An empty query returns the input unchanged.
func FilterIntegrations(items []mintegration.Integration, query string) []mintegration.Integration {
	if query == "" {
		return items
	}
	type ranked struct {
		item mintegration.Integration
		rank int
	}
	matches := make([]ranked, 0, len(items))
	for _, item := range items {
		best := fuzzy.RankMatchNormalizedFold(query, item.ID)
		if hostRank := fuzzy.RankMatchNormalizedFold(query, item.URLHost); hostRank >= 0 && (best < 0 || hostRank < best) {
			best = hostRank
		}
		if best >= 0 {
			matches = append(matches, ranked{item: item, rank: best})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].rank < matches[j].rank })
	out := make([]mintegration.Integration, len(matches))
	for i, m := range matches {
		out[i] = m.item
	}
	return out
}
