// Package reqctx builds engine request contexts from HTTP requests. All
// I/O the predicates depend on (geolocation, experiment buckets) happens
// here, before evaluation.
package reqctx

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/geo"
)

// Headers set by the trusted host that fronts this service.
const (
	HeaderUserID       = "X-Content-User-Id"
	HeaderUserRoles    = "X-Content-User-Roles"
	HeaderUserMeta     = "X-Content-User-Meta-"
	HeaderSession      = "X-Content-Session-"
	HeaderPageType     = "X-Content-Page-Type"
	HeaderPageURL      = "X-Content-Page-Url"
	HeaderCartTotal    = "X-Content-Cart-Total"
	HeaderCartItems    = "X-Content-Cart-Items"
	HeaderPurchased    = "X-Content-Purchased"
	HeaderCloudflareCC = "CF-IPCountry"
)

// VisitorCookie carries the anonymous visitor key used for experiments.
const VisitorCookie = "cs_visitor"

const visitorCookieMaxAge = 365 * 24 * 60 * 60

// ExperimentResolver returns bucket labels for the given tests.
type ExperimentResolver interface {
	ResolveAll(ctx context.Context, testIDs []string, userKey string) (map[string]string, error)
}

// Builder turns requests into engine.RequestContext values.
type Builder struct {
	geo         geo.Resolver
	experiments ExperimentResolver
	loc         *time.Location
	now         func() time.Time
	log         zerolog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

func WithGeo(r geo.Resolver) Option               { return func(b *Builder) { b.geo = r } }
func WithExperiments(r ExperimentResolver) Option { return func(b *Builder) { b.experiments = r } }
func WithLocation(loc *time.Location) Option      { return func(b *Builder) { b.loc = loc } }
func WithClock(now func() time.Time) Option       { return func(b *Builder) { b.now = now } }
func WithLogger(log zerolog.Logger) Option        { return func(b *Builder) { b.log = log } }

func New(opts ...Option) *Builder {
	b := &Builder{loc: time.UTC, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build reads identity, page, commerce, device and cookie data from r,
// resolves the visitor's location and the buckets of experimentIDs. When a
// bucket is needed for an anonymous visitor without a visitor cookie, one
// is issued on w.
func (b *Builder) Build(w http.ResponseWriter, r *http.Request, experimentIDs []string) *engine.RequestContext {
	h := r.Header
	rc := &engine.RequestContext{
		Device:  ParseUserAgent(r.UserAgent()),
		Now:     b.now().In(b.loc),
		IP:      clientIP(r),
		Cookies: make(map[string]string),
	}

	if id := strings.TrimSpace(h.Get(HeaderUserID)); id != "" {
		rc.Identity = engine.Identity{
			Authenticated: true,
			UserID:        id,
			Roles:         splitList(h.Get(HeaderUserRoles)),
			Meta:          prefixed(h, HeaderUserMeta),
		}
	}
	rc.Session = prefixed(h, HeaderSession)

	for _, c := range r.Cookies() {
		rc.Cookies[c.Name] = c.Value
	}

	rc.Page = engine.Page{
		Query:    r.URL.Query(),
		Referrer: r.Referer(),
		URL:      h.Get(HeaderPageURL),
	}
	for _, t := range splitList(h.Get(HeaderPageType)) {
		rc.Page.Types = append(rc.Page.Types, engine.PageType(strings.ToLower(t)))
	}

	rc.Commerce = commerceFrom(h)
	rc.Geo = b.locate(r.Context(), h, rc.IP)

	if len(experimentIDs) > 0 {
		key := rc.Identity.UserID
		if key == "" {
			key = b.visitorKey(w, r, rc)
		}
		rc.Experiments = b.resolve(r.Context(), experimentIDs, key)
	}
	return rc
}

// Complete fills in what a caller-supplied context left out: the current
// time and, for identified users, experiment buckets.
func (b *Builder) Complete(ctx context.Context, rc *engine.RequestContext, experimentIDs []string) *engine.RequestContext {
	if rc == nil {
		rc = &engine.RequestContext{}
	}
	if rc.Now.IsZero() {
		rc.Now = b.now().In(b.loc)
	}
	if rc.Experiments == nil && len(experimentIDs) > 0 && rc.Identity.UserID != "" {
		rc.Experiments = b.resolve(ctx, experimentIDs, rc.Identity.UserID)
	}
	return rc
}

func (b *Builder) resolve(ctx context.Context, ids []string, key string) map[string]string {
	if b.experiments == nil || key == "" {
		return nil
	}
	buckets, err := b.experiments.ResolveAll(ctx, ids, key)
	if err != nil {
		b.log.Warn().Err(err).Strs("tests", ids).Msg("experiment assignment failed")
	}
	return buckets
}

func (b *Builder) locate(ctx context.Context, h http.Header, ip string) engine.Geo {
	if cc := strings.ToUpper(strings.TrimSpace(h.Get(HeaderCloudflareCC))); len(cc) == 2 && cc != "XX" {
		return engine.Geo{Country: cc}
	}
	if b.geo == nil || ip == "" {
		return engine.Geo{}
	}
	loc, err := b.geo.Lookup(ctx, ip)
	if err != nil {
		b.log.Debug().Err(err).Str("ip", ip).Msg("geo lookup failed")
		return engine.Geo{}
	}
	return engine.Geo{Country: loc.Country, City: loc.City}
}

func (b *Builder) visitorKey(w http.ResponseWriter, r *http.Request, rc *engine.RequestContext) string {
	if c, err := r.Cookie(VisitorCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if w == nil {
		return ""
	}
	key := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookie,
		Value:    key,
		Path:     "/",
		MaxAge:   visitorCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	rc.Cookies[VisitorCookie] = key
	return key
}

// clientIP returns the address from RemoteAddr. Forwarding headers are
// handled by the RealIP middleware upstream.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

func commerceFrom(h http.Header) *engine.Commerce {
	total, items, purchased := h.Get(HeaderCartTotal), h.Get(HeaderCartItems), h.Get(HeaderPurchased)
	if total == "" && items == "" && purchased == "" {
		return nil
	}
	c := &engine.Commerce{
		CartItems: splitList(items),
		Purchased: splitList(purchased),
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(total), 64); err == nil {
		c.CartTotal = f
	}
	return c
}

// prefixed collects headers sharing prefix into a map keyed by the
// lower-cased remainder.
func prefixed(h http.Header, prefix string) map[string]string {
	var out map[string]string
	for name, values := range h {
		if len(name) <= len(prefix) || !strings.EqualFold(name[:len(prefix)], prefix) || len(values) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[strings.ToLower(name[len(prefix):])] = values[0]
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
