// Package router maps an HTTP method and path to a registered handler.
//
// Routes are matched in declaration order and the first match wins. A
// pattern may contain {name} placeholders, each capturing one path segment.
// An unmatched request is not an error: it is answered by the not-found
// handler with a 404 envelope.
package router

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

// Params holds the named captures of a matched pattern.
type Params map[string]string

// HandlerFunc handles a routed request.
type HandlerFunc func(c echo.Context, params Params) error

var placeholderPattern = regexp.MustCompile(`\{([^}]+)\}`)

type route struct {
	method     string
	pattern    string
	paramNames []string
	regex      *regexp.Regexp
	handler    HandlerFunc
}

// Router is a declaration-ordered method+path dispatcher.
type Router struct {
	mu       sync.RWMutex
	routes   []*route
	exact    map[string]HandlerFunc
	notFound HandlerFunc
}

// New creates an empty router with the default not-found handler.
func New() *Router {
	return &Router{
		exact:    make(map[string]HandlerFunc),
		notFound: defaultNotFound,
	}
}

// Register adds a route. Patterns without placeholders are also indexed for
// exact lookup; an earlier registration of the same method and path wins.
func (r *Router) Register(method, pattern string, handler HandlerFunc) {
	method = strings.ToUpper(method)

	rt := &route{
		method:  method,
		pattern: pattern,
		handler: handler,
	}

	if placeholderPattern.MatchString(pattern) {
		for _, m := range placeholderPattern.FindAllStringSubmatch(pattern, -1) {
			rt.paramNames = append(rt.paramNames, m[1])
		}
		rt.regex = regexp.MustCompile("^" + compilePattern(pattern) + "$")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes = append(r.routes, rt)
	if rt.regex == nil {
		key := method + " " + pattern
		if _, exists := r.exact[key]; !exists {
			r.exact[key] = handler
		}
	}
}

// GET registers a GET route.
func (r *Router) GET(pattern string, handler HandlerFunc) {
	r.Register(http.MethodGet, pattern, handler)
}

// POST registers a POST route.
func (r *Router) POST(pattern string, handler HandlerFunc) {
	r.Register(http.MethodPost, pattern, handler)
}

// NotFound replaces the handler invoked when no route matches.
func (r *Router) NotFound(handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notFound = handler
}

// Match resolves method and rawPath to a handler and its params.
// rawPath may carry a query string and percent-encoding.
func (r *Router) Match(method, rawPath string) (HandlerFunc, Params, bool) {
	method = strings.ToUpper(method)
	path := normalizePath(rawPath)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if handler, ok := r.exact[method+" "+path]; ok {
		return handler, Params{}, true
	}

	for _, rt := range r.routes {
		if rt.method != method || rt.regex == nil {
			continue
		}
		matches := rt.regex.FindStringSubmatch(path)
		if matches == nil {
			continue
		}
		params := make(Params, len(rt.paramNames))
		for i, name := range rt.paramNames {
			if i+1 < len(matches) {
				params[name] = matches[i+1]
			}
		}
		return rt.handler, params, true
	}

	return nil, nil, false
}

// Dispatch routes the echo request, falling through to the not-found handler.
func (r *Router) Dispatch(c echo.Context) error {
	req := c.Request()
	handler, params, ok := r.Match(req.Method, req.URL.RequestURI())
	if !ok {
		r.mu.RLock()
		notFound := r.notFound
		r.mu.RUnlock()
		return notFound(c, Params{})
	}
	return handler(c, params)
}

// Mount forwards every request under prefix from echo to the router.
func (r *Router) Mount(e *echo.Echo, prefix string, middleware ...echo.MiddlewareFunc) {
	prefix = strings.TrimSuffix(prefix, "/")
	e.Any(prefix+"/*", r.Dispatch, middleware...)
}

// Routes lists registered routes as "METHOD pattern" in declaration order.
func (r *Router) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt.method+" "+rt.pattern)
	}
	return out
}

// compilePattern quotes the literal parts of pattern and turns every
// placeholder into a single-segment capture.
func compilePattern(pattern string) string {
	var b strings.Builder
	last := 0
	for _, loc := range placeholderPattern.FindAllStringIndex(pattern, -1) {
		b.WriteString(regexp.QuoteMeta(pattern[last:loc[0]]))
		b.WriteString(`([^/]+)`)
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(pattern[last:]))
	return b.String()
}

func normalizePath(rawPath string) string {
	if i := strings.IndexByte(rawPath, '?'); i >= 0 {
		rawPath = rawPath[:i]
	}
	if decoded, err := url.PathUnescape(rawPath); err == nil {
		return decoded
	}
	return rawPath
}

func defaultNotFound(c echo.Context, _ Params) error {
	return c.JSON(http.StatusNotFound, map[string]string{
		"status":  "error",
		"message": "Endpoint not found",
	})
}
