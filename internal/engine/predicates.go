package engine

import (
	"net/netip"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/TimurManjosov/contentship/internal/rules"
)

// Predicate decides one condition against a request context. The
// condition's operator has already been normalised. Predicates must be pure.
type Predicate func(c rules.Condition, rc *RequestContext) bool

// builtins returns the fixed predicate table. custom_code is bound by the
// engine because it needs the expression evaluator.
//
// Built-in predicates accept every recognised operator. An operator a
// predicate has no special meaning for falls through to its default
// comparison, as the legacy editor allowed.
func builtins() map[rules.ConditionType]Predicate {
	return map[rules.ConditionType]Predicate{
		rules.TypeRole:             evalRole,
		rules.TypeLoggedIn:         evalLoggedIn,
		rules.TypeUserMeta:         evalUserMeta,
		rules.TypeCountry:          evalCountry,
		rules.TypeCity:             evalCity,
		rules.TypeIPAddress:        evalIPAddress,
		rules.TypeDeviceType:       evalDeviceType,
		rules.TypeBrowser:          evalBrowser,
		rules.TypeOS:               evalOS,
		rules.TypeDateRange:        evalDateRange,
		rules.TypeDayOfWeek:        evalDayOfWeek,
		rules.TypeTimeRange:        evalTimeRange,
		rules.TypePageType:         evalPageType,
		rules.TypeURLParameter:     evalURLParameter,
		rules.TypeReferrer:         evalReferrer,
		rules.TypeCartTotal:        evalCartTotal,
		rules.TypeCartItems:        evalCartItems,
		rules.TypePurchasedProduct: evalPurchased,
		rules.TypeCookie:           evalCookie,
		rules.TypeSession:          evalSession,
		rules.TypeABTest:           evalABTest,
	}
}

// evalRole: authenticated and holding one of the listed roles.
func evalRole(c rules.Condition, rc *RequestContext) bool {
	match := false
	if rc.Identity.Authenticated {
		match = intersects(toStringList(c.Value), rc.Identity.Roles)
	}
	return negateIf(c.Operator, match)
}

// evalLoggedIn: "logged_in" requires a session, any other value requires
// its absence.
func evalLoggedIn(c rules.Condition, rc *RequestContext) bool {
	if v, _ := toString(c.Value); v == "logged_in" {
		return rc.Identity.Authenticated
	}
	return !rc.Identity.Authenticated
}

func evalUserMeta(c rules.Condition, rc *RequestContext) bool {
	if !rc.Identity.Authenticated || c.Parameter == "" {
		return false
	}
	actual, ok := rc.Identity.Meta[c.Parameter]
	return compareKeyed(c.Operator, actual, ok, c.Value, true)
}

func evalCountry(c rules.Condition, rc *RequestContext) bool {
	match := rc.Geo.Country != "" && containsFold(toStringList(c.Value), rc.Geo.Country)
	return negateIf(c.Operator, match)
}

func evalCity(c rules.Condition, rc *RequestContext) bool {
	match := rc.Geo.City != "" && containsFold(toStringList(c.Value), rc.Geo.City)
	return negateIf(c.Operator, match)
}

// evalIPAddress matches the client address against addresses and CIDR
// prefixes. An unparseable client address never matches.
func evalIPAddress(c rules.Condition, rc *RequestContext) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(rc.IP))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	match := false
	for _, entry := range toStringList(c.Value) {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if p, err := netip.ParsePrefix(entry); err == nil && p.Contains(addr) {
				match = true
				break
			}
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil && a.Unmap() == addr {
			match = true
			break
		}
	}
	return negateIf(c.Operator, match)
}

// evalDeviceType: "mobile", "tablet", anything else means desktop.
func evalDeviceType(c rules.Condition, rc *RequestContext) bool {
	want, _ := toString(c.Value)
	var match bool
	switch strings.ToLower(strings.TrimSpace(want)) {
	case "mobile":
		match = rc.Device.Mobile
	case "tablet":
		match = isTablet(rc.Device.UserAgent)
	default:
		match = !rc.Device.Mobile
	}
	return negateIf(c.Operator, match)
}

// evalBrowser compares the browser name, or with greater_than/less_than
// the browser version against a semantic version.
func evalBrowser(c rules.Condition, rc *RequestContext) bool {
	switch c.Operator {
	case rules.OpGreaterThan, rules.OpLessThan:
		if c.Parameter != "" && !strings.EqualFold(c.Parameter, rc.Device.Browser) {
			return false
		}
		want, ok := toString(c.Value)
		if !ok {
			return false
		}
		have, err := semver.NewVersion(coerceVersion(rc.Device.BrowserVersion))
		if err != nil {
			return false
		}
		bound, err := semver.NewVersion(coerceVersion(want))
		if err != nil {
			return false
		}
		if c.Operator == rules.OpGreaterThan {
			return have.GreaterThan(bound)
		}
		return have.LessThan(bound)
	}
	return matchText(c, rc.Device.Browser)
}

// coerceVersion keeps at most three numeric segments; browsers report
// versions such as 120.0.6099.71.
func coerceVersion(v string) string {
	parts := strings.SplitN(strings.TrimSpace(v), ".", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, ".")
}

func evalOS(c rules.Condition, rc *RequestContext) bool {
	return matchText(c, rc.Device.OS)
}

// matchText is the case-insensitive equals/not_equals/contains over a list.
func matchText(c rules.Condition, actual string) bool {
	if actual == "" {
		return c.Operator == rules.OpNotEquals
	}
	wants := toStringList(c.Value)
	if c.Operator == rules.OpContains {
		lower := strings.ToLower(actual)
		for _, w := range wants {
			if w != "" && strings.Contains(lower, strings.ToLower(w)) {
				return true
			}
		}
		return false
	}
	return negateIf(c.Operator, containsFold(wants, actual))
}

// evalDateRange fails closed when a bound cannot be parsed.
func evalDateRange(c rules.Condition, rc *RequestContext) bool {
	start, end := rangeBounds(c.StartDate, c.EndDate, c.Value)
	match, valid := inDateRange(rc.Now, start, end)
	if !valid {
		return false
	}
	return negateIf(c.Operator, match)
}

func evalTimeRange(c rules.Condition, rc *RequestContext) bool {
	start, end := rangeBounds(c.StartDate, c.EndDate, c.Value)
	match, valid := inClockRange(rc.Now, start, end)
	if !valid {
		return false
	}
	return negateIf(c.Operator, match)
}

func evalDayOfWeek(c rules.Condition, rc *RequestContext) bool {
	today := rc.Now.Weekday()
	match, valid := false, false
	for _, v := range toStringList(c.Value) {
		d, ok := parseWeekday(v)
		if !ok {
			continue
		}
		valid = true
		if d == today {
			match = true
		}
	}
	if !valid {
		return false
	}
	return negateIf(c.Operator, match)
}

// evalPageType matches when the page carries any listed classification.
// Unknown classifications never match.
func evalPageType(c rules.Condition, rc *RequestContext) bool {
	match, valid := false, false
	for _, v := range toStringList(c.Value) {
		pt := PageType(strings.ToLower(strings.TrimSpace(v)))
		if _, ok := knownPageTypes[pt]; !ok {
			continue
		}
		valid = true
		if rc.Page.Is(pt) {
			match = true
		}
	}
	if !valid {
		return false
	}
	return negateIf(c.Operator, match)
}

func evalURLParameter(c rules.Condition, rc *RequestContext) bool {
	if c.Parameter == "" {
		return false
	}
	values, ok := rc.Page.Query[c.Parameter]
	actual := ""
	if len(values) > 0 {
		actual = values[0]
	}
	return compareKeyed(c.Operator, actual, ok, c.Value, true)
}

// evalReferrer checks the referring URL. exists means any referrer at all.
func evalReferrer(c rules.Condition, rc *RequestContext) bool {
	return compareKeyed(c.Operator, rc.Page.Referrer, rc.Page.Referrer != "", c.Value, true)
}

func evalCartTotal(c rules.Condition, rc *RequestContext) bool {
	if rc.Commerce == nil {
		return false
	}
	return compareNumber(c.Operator, rc.Commerce.CartTotal, c.Value)
}

// evalCartItems compares the item count, or with contains checks the cart
// for any listed product.
func evalCartItems(c rules.Condition, rc *RequestContext) bool {
	if rc.Commerce == nil {
		return false
	}
	if c.Operator == rules.OpContains {
		return intersects(toStringList(c.Value), rc.Commerce.CartItems)
	}
	return compareNumber(c.Operator, float64(len(rc.Commerce.CartItems)), c.Value)
}

func evalPurchased(c rules.Condition, rc *RequestContext) bool {
	if rc.Commerce == nil {
		return false
	}
	return negateIf(c.Operator, intersects(toStringList(c.Value), rc.Commerce.Purchased))
}

func evalCookie(c rules.Condition, rc *RequestContext) bool {
	if c.Parameter == "" {
		return false
	}
	actual, ok := rc.Cookies[c.Parameter]
	return compareKeyed(c.Operator, actual, ok, c.Value, false)
}

func evalSession(c rules.Condition, rc *RequestContext) bool {
	if c.Parameter == "" {
		return false
	}
	actual, ok := rc.Session[c.Parameter]
	return compareKeyed(c.Operator, actual, ok, c.Value, false)
}

// evalABTest compares the visitor's pre-resolved bucket for the test named by
// Parameter against the label in Value ("A" when empty). A test the host did
// not resolve never matches.
func evalABTest(c rules.Condition, rc *RequestContext) bool {
	if c.Parameter == "" {
		return false
	}
	bucket, ok := rc.Experiments[c.Parameter]
	if !ok || bucket == "" {
		return false
	}
	label, _ := toString(c.Value)
	if strings.TrimSpace(label) == "" {
		label = "A"
	}
	return negateIf(c.Operator, strings.EqualFold(bucket, strings.TrimSpace(label)))
}
