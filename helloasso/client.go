package helloasso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/assoctools/rolesync/config"
)

// Client talks to the HelloAsso v5 API. Tokens are obtained through the
// OAuth2 client-credentials flow and refreshed by the underlying transport.
type Client struct {
	httpClient       *http.Client
	apiBase          string
	organizationSlug string
	formSlug         string
}

func NewClient(cfg config.HelloAssoConfig) *Client {
	oauth := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.APIBase + "/oauth2/token",
	}

	httpClient := oauth.Client(context.Background())
	httpClient.Timeout = cfg.Timeout

	return &Client{
		httpClient:       httpClient,
		apiBase:          cfg.APIBase,
		organizationSlug: cfg.OrganizationSlug,
		formSlug:         cfg.FormSlug,
	}
}

type page struct {
	Data       []Order    `json:"data"`
	Pagination pagination `json:"pagination"`
}

type pagination struct {
	PageIndex         int    `json:"pageIndex"`
	TotalPages        int    `json:"totalPages"`
	ContinuationToken string `json:"continuationToken"`
}

// ListFormOrders fetches every order of the membership form, following
// continuation tokens until the API is exhausted. Any non-success response
// fails the whole listing: a partial roster must never pass for a complete
// one.
func (c *Client) ListFormOrders(ctx context.Context) ([]Order, error) {
	path := fmt.Sprintf("/organizations/%s/forms/Membership/%s/orders", c.organizationSlug, c.formSlug)

	var orders []Order
	token := ""
	for {
		query := url.Values{"withDetails": {"true"}}
		if token != "" {
			query.Set("continuationToken", token)
		}

		var p page
		if err := c.get(ctx, path, query, &p); err != nil {
			return nil, fmt.Errorf("list form orders: %w", err)
		}

		log.Info().
			Int("count", len(p.Data)).
			Int("page", p.Pagination.PageIndex).
			Int("pages", p.Pagination.TotalPages).
			Msg("fetched membership orders page")

		if len(p.Data) == 0 {
			break
		}
		orders = append(orders, p.Data...)

		if p.Pagination.ContinuationToken == "" || p.Pagination.PageIndex >= p.Pagination.TotalPages {
			break
		}
		token = p.Pagination.ContinuationToken
	}

	log.Info().Int("total", len(orders)).Msg("membership orders fetched")
	return orders, nil
}

type formsPage struct {
	Data []Form `json:"data"`
}

// ListForms lists the organization's forms.
func (c *Client) ListForms(ctx context.Context) ([]Form, error) {
	var p formsPage
	path := fmt.Sprintf("/organizations/%s/forms", c.organizationSlug)
	if err := c.get(ctx, path, nil, &p); err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	return p.Data, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.apiBase + "/v5" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	retrier := retry.NewRetrier(5, 100*time.Millisecond, time.Second)

	return retrier.Run(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Stop(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return err
			}
			return retry.Stop(err)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Stop(err)
		}
		return nil
	})
}
