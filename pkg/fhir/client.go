package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8080/fhir/"
	DefaultTimeout = 30 * time.Second

	// maxObservations is the page size requested per search. Observation
	// histories in the benchmark data set are far below this.
	maxObservations = 5000
)

// Client reads from a FHIR R4 server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Store = &Client{}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient returns a client for the server rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized server root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type bundle struct {
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

type observationResource struct {
	EffectiveDateTime string `json:"effectiveDateTime"`
	ValueQuantity     *struct {
		Value json.Number `json:"value"`
	} `json:"valueQuantity"`
	ValueString *string `json:"valueString"`
}

type patientResource struct {
	BirthDate string `json:"birthDate"`
}

// Observations returns every observation matching q in server order.
// Entries without an effective time or value are dropped; entries whose
// effective time does not parse keep a zero Effective.
func (c *Client) Observations(ctx context.Context, q Query) ([]Observation, error) {
	params := url.Values{}
	params.Set("patient", q.Patient)
	params.Set("code", q.Code)
	if q.Date != "" {
		params.Set("date", q.Date)
	}
	params.Set("_count", fmt.Sprint(maxObservations))
	params.Set("_format", "json")

	var b bundle
	if err := c.get(ctx, "Observation", params, &b); err != nil {
		return nil, err
	}

	out := make([]Observation, 0, len(b.Entry))
	for i, e := range b.Entry {
		var res observationResource
		if err := json.Unmarshal(e.Resource, &res); err != nil {
			return nil, fmt.Errorf("%w: observation entry %d: %v", ErrMalformed, i, err)
		}
		if res.EffectiveDateTime == "" {
			continue
		}

		obs := Observation{EffectiveRaw: res.EffectiveDateTime}
		switch {
		case res.ValueQuantity != nil:
			v, err := res.ValueQuantity.Value.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: observation entry %d value: %v", ErrMalformed, i, err)
			}
			obs.Value = v
		case res.ValueString != nil:
			obs.Value = *res.ValueString
		default:
			continue
		}

		if ts, err := ParseTimestamp(res.EffectiveDateTime); err == nil {
			obs.Effective = ts
		}
		out = append(out, obs)
	}

	return out, nil
}

// Patient looks a patient up by identifier.
func (c *Client) Patient(ctx context.Context, id string) (*Patient, error) {
	params := url.Values{}
	params.Set("identifier", id)
	params.Set("_format", "json")

	var b bundle
	if err := c.get(ctx, "Patient", params, &b); err != nil {
		return nil, err
	}
	if len(b.Entry) == 0 {
		return nil, fmt.Errorf("%w: patient %q", ErrNotFound, id)
	}

	var res patientResource
	if err := json.Unmarshal(b.Entry[0].Resource, &res); err != nil {
		return nil, fmt.Errorf("%w: patient %q: %v", ErrMalformed, id, err)
	}
	if res.BirthDate == "" {
		return nil, fmt.Errorf("%w: patient %q has no birthDate", ErrMalformed, id)
	}

	return &Patient{BirthDate: res.BirthDate}, nil
}

func (c *Client) get(ctx context.Context, resource string, params url.Values, out any) error {
	endpoint := c.baseURL + resource + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", resource, err)
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrUnavailable, resource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %v", ErrUnavailable, resource, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: GET %s returned status %d", ErrUnavailable, resource, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s bundle: %v", ErrMalformed, resource, err)
	}

	return nil
}
