package engine

import (
	"time"

	"github.com/TimurManjosov/contentship/internal/rules"
)

// Reason explains how a selection was made.
type Reason string

const (
	ReasonVariantMatch Reason = "VARIANT_MATCH"
	ReasonDefault      Reason = "DEFAULT"
	ReasonPassthrough  Reason = "PASSTHROUGH"
)

// PageType is one classification of the page being rendered. A page can
// carry several (a category listing is both "archive" and "category").
type PageType string

const (
	PageHome     PageType = "home"
	PageSingle   PageType = "single"
	PagePage     PageType = "page"
	PageArchive  PageType = "archive"
	PageSearch   PageType = "search"
	PageCategory PageType = "category"
)

var knownPageTypes = map[PageType]struct{}{
	PageHome: {}, PageSingle: {}, PagePage: {}, PageArchive: {}, PageSearch: {}, PageCategory: {},
}

// RequestContext is the read-only snapshot predicates inspect.
// Everything that needs I/O (geolocation, experiment buckets, cart
// retrieval) is resolved by the host before it is built.
type RequestContext struct {
	Identity    Identity          `json:"identity"`
	Geo         Geo               `json:"geo"`
	Device      Device            `json:"device"`
	Now         time.Time         `json:"now"`
	Page        Page              `json:"page"`
	Commerce    *Commerce         `json:"commerce,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	Session     map[string]string `json:"session,omitempty"`
	Experiments map[string]string `json:"experiments,omitempty"` // test id -> bucket label
	IP          string            `json:"ip,omitempty"`
}

// Identity describes the visitor.
type Identity struct {
	Authenticated bool              `json:"authenticated"`
	UserID        string            `json:"userId,omitempty"`
	Roles         []string          `json:"roles,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// Geo is the resolved location of the visitor.
type Geo struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

// Device is the parsed user agent.
type Device struct {
	UserAgent      string `json:"userAgent,omitempty"`
	Mobile         bool   `json:"mobile"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os,omitempty"`
}

// Class returns "tablet", "mobile" or "desktop".
func (d Device) Class() string {
	switch {
	case isTablet(d.UserAgent):
		return "tablet"
	case d.Mobile:
		return "mobile"
	default:
		return "desktop"
	}
}

// Page describes the page being rendered.
type Page struct {
	Types    []PageType          `json:"types,omitempty"`
	Query    map[string][]string `json:"query,omitempty"`
	Referrer string              `json:"referrer,omitempty"`
	URL      string              `json:"url,omitempty"`
}

// Is reports whether the page carries classification t.
func (p Page) Is(t PageType) bool {
	for _, pt := range p.Types {
		if pt == t {
			return true
		}
	}
	return false
}

// Commerce is present only when the host has a shop subsystem.
type Commerce struct {
	CartTotal float64  `json:"cartTotal"`
	CartItems []string `json:"cartItems,omitempty"`
	Purchased []string `json:"purchased,omitempty"`
}

// Selection is the outcome of Select.
type Selection struct {
	Content   string   `json:"content"`
	VariantID rules.ID `json:"variantId,omitempty"`
	Index     int      `json:"-"` // matched variant index, -1 when none
	Reason    Reason   `json:"reason"`
}

// TestResult is the outcome of an ad hoc condition test.
type TestResult struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
}

const (
	messageMatched    = "Conditions matched! Content would be displayed."
	messageNotMatched = "Conditions not matched. Default content would be displayed."
)
