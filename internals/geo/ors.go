package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/thebowwman/delisim/internals/domain"
	"github.com/thebowwman/delisim/internals/obs"
)

var ErrNoAPIKey = errors.New("ors api key is empty")

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("Code %d: %s", e.Code, e.Body)
}

// ORSClient talks to OpenRouteService geocoding and directions endpoints.
// Timeouts come from the caller's context; there is no retry, callers fall back instead.
// Safe for concurrent use.
type ORSClient struct {
	session *http.Client
	apiKey  string
	baseURL string
	profile string
}

func NewORSClient(session *http.Client, apiKey, baseURL, profile string) *ORSClient {
	if session == nil {
		session = &http.Client{}
	}
	if profile == "" {
		profile = "driving-car"
	}
	return &ORSClient{
		session: session,
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: profile,
	}
}

func (o *ORSClient) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	if o.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", o.apiKey)
	req.Header.Set("Accept", "application/json, application/geo+json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (o *ORSClient) do(req *http.Request) (*http.Response, error) {
	resp, err := o.session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, &httpStatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}

type featureCollection struct {
	Features []struct {
		Geometry struct {
			Coordinates json.RawMessage `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Geocode resolves free text to the first candidate's coordinate.
// GeoJSON positions are [lon, lat].
func (o *ORSClient) Geocode(ctx context.Context, text string) (_ domain.Coordinate, err error) {
	sp := obs.Start(ctx, "ors.geocode").Note("text", fmt.Sprintf("%q", text))
	defer sp.End(&err)

	req, err := o.newRequest(ctx, http.MethodGet, o.baseURL+"/geocode/search", nil)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("geocode request: %w", err)
	}
	q := req.URL.Query()
	q.Set("text", text)
	q.Set("size", "1")
	req.URL.RawQuery = q.Encode()

	resp, err := o.do(req)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("execute geocode request: %w", err)
	}
	defer resp.Body.Close()

	var decoded featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Coordinate{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(decoded.Features) == 0 {
		return domain.Coordinate{}, fmt.Errorf("no geocode results for %q", text)
	}

	var pos []float64
	if err := json.Unmarshal(decoded.Features[0].Geometry.Coordinates, &pos); err != nil {
		return domain.Coordinate{}, fmt.Errorf("decode geocode position: %w", err)
	}
	if len(pos) < 2 {
		return domain.Coordinate{}, fmt.Errorf("invalid coordinate format for %q", text)
	}

	c := domain.Coordinate{Lat: pos[1], Lng: pos[0]}
	if !c.IsValid() {
		return domain.Coordinate{}, fmt.Errorf("geocode result out of range for %q: %v", text, pos)
	}
	return c, nil
}

type directionsRequest struct {
	Coordinates [][]float64 `json:"coordinates"`
}

// Directions returns the driving path from start to end, latitude-first.
func (o *ORSClient) Directions(ctx context.Context, start, end domain.Coordinate) (_ []domain.Coordinate, err error) {
	sp := obs.Start(ctx, "ors.directions").Note("profile", o.profile)
	defer sp.End(&err)

	payload, err := json.Marshal(directionsRequest{
		Coordinates: [][]float64{{start.Lng, start.Lat}, {end.Lng, end.Lat}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal directions request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/directions/%s/geojson", o.baseURL, o.profile)
	req, err := o.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("directions request: %w", err)
	}

	resp, err := o.do(req)
	if err != nil {
		return nil, fmt.Errorf("execute directions request: %w", err)
	}
	defer resp.Body.Close()

	var decoded featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode directions response: %w", err)
	}
	if len(decoded.Features) == 0 {
		return nil, errors.New("directions response has no features")
	}

	var line [][]float64
	if err := json.Unmarshal(decoded.Features[0].Geometry.Coordinates, &line); err != nil {
		return nil, fmt.Errorf("decode directions geometry: %w", err)
	}

	out := make([]domain.Coordinate, 0, len(line))
	for i, p := range line {
		if len(p) < 2 {
			return nil, fmt.Errorf("directions geometry point %d has %d values", i, len(p))
		}
		out = append(out, domain.Coordinate{Lat: p[1], Lng: p[0]})
	}
	sp.Note("points", len(out))
	return out, nil
}
