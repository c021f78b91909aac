package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

type modelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Pricing *struct {
			Prompt     flexFloat `json:"prompt"`
			Completion flexFloat `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		*f = 0
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("price %q: %w", s, err)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// PerMillion converts a per-token price to USD per million tokens rounded to
// two decimals.
func PerMillion(perToken float64) float64 {
	return math.Round(perToken*1e6*100) / 100
}

// ListModels returns the provider's catalog: the static list for static
// variants, otherwise a fresh remote fetch.
func (c *Client) ListModels(ctx context.Context, provider, credential string) ([]types.ModelDescriptor, error) {
	v, err := Lookup(provider)
	if err != nil {
		return nil, err
	}
	if v.Catalog == CatalogStatic {
		out := make([]types.ModelDescriptor, len(v.Static))
		copy(out, v.Static)
		return out, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelsURL(v), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, v, credential)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var payload modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	out := make([]types.ModelDescriptor, 0, len(payload.Data))
	for _, m := range payload.Data {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		d := types.ModelDescriptor{ID: m.ID, Name: m.Name}
		if d.Name == "" {
			d.Name = m.ID
		}
		if m.Pricing != nil {
			d.Pricing = &types.Pricing{
				Prompt:     PerMillion(float64(m.Pricing.Prompt)),
				Completion: PerMillion(float64(m.Pricing.Completion)),
			}
		}
		out = append(out, d)
	}
	return out, nil
}
