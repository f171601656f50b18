package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// routeMarker separates the site base from the client-side route.
const routeMarker = "#!/"

// homepageID is the ID of a route with an empty path.
const homepageID = "homepage"

// Normalize returns the canonical form of a URL used for every visited and
// pending comparison. It strips trailing slashes and is idempotent.
func Normalize(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// RoutePath returns the part of u after the `#!/` marker. ok is false when u
// has no marker.
func RoutePath(u string) (path string, ok bool) {
	idx := strings.Index(u, routeMarker)
	if idx < 0 {
		return "", false
	}
	return u[idx+len(routeMarker):], true
}

// GenerateID derives a page ID from a route path: surrounding slashes are
// trimmed and inner slashes become underscores. An empty path is the homepage.
func GenerateID(path string) string {
	clean := strings.ReplaceAll(strings.Trim(path, "/"), "/", "_")
	if clean == "" {
		return homepageID
	}
	return clean
}

// PageRefFor returns the PageRef for a normalized URL, or false when the URL
// carries no route path.
func PageRefFor(u string) (PageRef, bool) {
	path, ok := RoutePath(u)
	if !ok || strings.Trim(path, "/") == "" {
		return PageRef{}, false
	}
	return PageRef{ID: GenerateID(path), URL: u}, true
}

// LinkPattern describes which hrefs count as in-site hash-routed links: same
// scheme and host as the start URL, with a route beginning `#!/`.
type LinkPattern struct {
	base     string
	selector string
}

// NewLinkPattern derives the pattern from the start URL. A non-empty selector
// overrides the derived CSS selector; hrefs are still checked against the base.
func NewLinkPattern(startURL, selector string) (LinkPattern, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return LinkPattern{}, fmt.Errorf("parse start url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return LinkPattern{}, fmt.Errorf("start url %q must be absolute", startURL)
	}
	base := u.Scheme + "://" + u.Host
	if selector == "" {
		selector = fmt.Sprintf("a[href^='%s/%s']", base, routeMarker)
	}
	return LinkPattern{base: base, selector: selector}, nil
}

// Base returns scheme://host.
func (p LinkPattern) Base() string { return p.base }

// Selector returns the CSS selector matching in-site anchors.
func (p LinkPattern) Selector() string { return p.selector }

// Matches reports whether href points at a route of the same site.
func (p LinkPattern) Matches(href string) bool {
	return strings.HasPrefix(href, p.base+"/"+routeMarker)
}
