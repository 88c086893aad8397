package geo

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/thebowwman/delisim/internals/domain"
	"github.com/thebowwman/delisim/internals/obs"
)

// Lookup resolves free text through an external geocoding service.
type Lookup interface {
	Geocode(ctx context.Context, text string) (domain.Coordinate, error)
}

// Cache stores previous external geocoding results keyed by normalized address.
type Cache interface {
	Get(ctx context.Context, address string) (domain.Coordinate, bool, error)
	Put(ctx context.Context, address string, c domain.Coordinate) error
}

// Source says which tier produced a geocoding result.
type Source string

const (
	SourceKeyword  Source = "keyword"
	SourceCache    Source = "cache"
	SourceExternal Source = "external"
	SourceFallback Source = "fallback"
)

type GeocoderOptions struct {
	Keywords KeywordTable
	Lookup   Lookup
	Cache    Cache
	Country  string
	Default  domain.Coordinate
	Jitter   float64
	Timeout  time.Duration
}

// Geocoder resolves an address in tiers: keyword table, cache, external
// lookup, then a jittered default. It never fails.
type Geocoder struct {
	keywords KeywordTable
	lookup   Lookup
	cache    Cache
	country  string
	def      domain.Coordinate
	jitter   float64
	timeout  time.Duration
	rand     func() float64
}

func NewGeocoder(opts GeocoderOptions) *Geocoder {
	if opts.Keywords == nil {
		opts.Keywords = DefaultKeywords
	}
	return &Geocoder{
		keywords: opts.Keywords,
		lookup:   opts.Lookup,
		cache:    opts.Cache,
		country:  opts.Country,
		def:      opts.Default,
		jitter:   opts.Jitter,
		timeout:  opts.Timeout,
		rand:     rand.Float64,
	}
}

// normalize collapses whitespace so cache keys are stable.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Resolve returns a usable coordinate for address.
func (g *Geocoder) Resolve(ctx context.Context, address string) domain.Coordinate {
	c, _ := g.ResolveSource(ctx, address)
	return c
}

// ResolveSource is Resolve plus the tier that answered.
func (g *Geocoder) ResolveSource(ctx context.Context, address string) (c domain.Coordinate, src Source) {
	sp := obs.Start(ctx, "geocode")
	defer func() {
		sp.Note("tier", src).Note("lat", fmt.Sprintf("%.6f", c.Lat)).Note("lng", fmt.Sprintf("%.6f", c.Lng))
		sp.End(nil)
	}()

	addr := normalize(address)
	if addr == "" {
		log.Printf("geocode: empty address, using default center")
		return g.fallback(), SourceFallback
	}

	if c, matched := g.keywords.Lookup(addr); matched {
		return c, SourceKeyword
	}

	if c, src, ok := g.external(ctx, addr); ok {
		return c, src
	}

	log.Printf("geocode: no result for %q, using default center", addr)
	return g.fallback(), SourceFallback
}

func (g *Geocoder) external(ctx context.Context, addr string) (domain.Coordinate, Source, bool) {
	key := strings.ToLower(addr)

	if g.cache != nil {
		c, ok, err := g.cache.Get(ctx, key)
		if err != nil {
			log.Printf("geocode cache read failed: address=%q err=%v", addr, err)
		} else if ok {
			return c, SourceCache, true
		}
	}

	if g.lookup == nil {
		return domain.Coordinate{}, "", false
	}

	query := addr
	if g.country != "" {
		query = addr + ", " + g.country
	}

	lctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	c, err := g.lookup.Geocode(lctx, query)
	if err != nil {
		log.Printf("geocode: external lookup failed: address=%q err=%v", addr, err)
		return domain.Coordinate{}, "", false
	}

	if g.cache != nil {
		if err := g.cache.Put(ctx, key, c); err != nil {
			log.Printf("geocode cache write failed: address=%q err=%v", addr, err)
		}
	}
	return c, SourceExternal, true
}

func (g *Geocoder) fallback() domain.Coordinate {
	return domain.Coordinate{
		Lat: g.def.Lat + (g.rand()*2-1)*g.jitter,
		Lng: g.def.Lng + (g.rand()*2-1)*g.jitter,
	}
}
