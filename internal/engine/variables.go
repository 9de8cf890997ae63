package engine

import "strings"

// Variables exposes a fixed, read-only view of rc to expression languages.
// Every key is always present so expressions can reference it safely.
func Variables(rc *RequestContext) map[string]any {
	if rc == nil {
		rc = emptyContext
	}

	pageTypes := make([]string, 0, len(rc.Page.Types))
	for _, t := range rc.Page.Types {
		pageTypes = append(pageTypes, string(t))
	}
	query := make(map[string]string, len(rc.Page.Query))
	for k, v := range rc.Page.Query {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	vars := map[string]any{
		"logged_in":       rc.Identity.Authenticated,
		"user_id":         rc.Identity.UserID,
		"roles":           nonNilStrings(rc.Identity.Roles),
		"meta":            nonNilMap(rc.Identity.Meta),
		"country":         rc.Geo.Country,
		"city":            rc.Geo.City,
		"ip":              rc.IP,
		"device":          rc.Device.Class(),
		"browser":         rc.Device.Browser,
		"browser_version": rc.Device.BrowserVersion,
		"os":              rc.Device.OS,
		"page_types":      pageTypes,
		"query":           query,
		"referrer":        rc.Page.Referrer,
		"cookies":         nonNilMap(rc.Cookies),
		"session":         nonNilMap(rc.Session),
		"experiments":     nonNilMap(rc.Experiments),
		"has_cart":        rc.Commerce != nil,
		"cart_total":      0.0,
		"cart_items":      []string{},
		"purchased":       []string{},
		"hour":            int64(rc.Now.Hour()),
		"minute":          int64(rc.Now.Minute()),
		"weekday":         strings.ToLower(rc.Now.Weekday().String()),
		"date":            rc.Now.Format(dateOnlyLayout),
	}
	if rc.Commerce != nil {
		vars["cart_total"] = rc.Commerce.CartTotal
		vars["cart_items"] = nonNilStrings(rc.Commerce.CartItems)
		vars["purchased"] = nonNilStrings(rc.Commerce.Purchased)
	}
	return vars
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
