// Package router decides navigation outcomes from the session state.
package router

import (
	"errors"
	"fmt"
	"strings"
)

// Well-known paths.
const (
	PathRoot  = "/"
	PathLogin = "/login"
	PathHome  = "/home"
)

// maxRedirects bounds Follow; a sane table settles in at most two hops.
const maxRedirects = 4

var (
	ErrEmptyPath      = errors.New("route path is required")
	ErrDuplicateRoute = errors.New("duplicate route")
	ErrConflictFlags  = errors.New("route cannot be both guest-only and auth-required")
	ErrRedirectLoop   = errors.New("redirect loop")
)

// Route is one navigable destination.
type Route struct {
	Path         string
	Name         string
	GuestOnly    bool
	RequiresAuth bool
}

// Outcome is the result of a guard decision.
type Outcome struct {
	Proceed  bool
	Redirect string
}

func (o Outcome) String() string {
	if o.Proceed {
		return "proceed"
	}
	return "redirect:" + o.Redirect
}

// Proceed lets navigation continue.
func Proceed() Outcome { return Outcome{Proceed: true} }

// RedirectTo sends navigation elsewhere.
func RedirectTo(path string) Outcome { return Outcome{Redirect: path} }

// Decide is evaluated before every navigation. requiresAuth is checked
// before guestOnly.
func Decide(route Route, loggedIn bool) Outcome {
	switch {
	case route.RequiresAuth && !loggedIn:
		return RedirectTo(PathLogin)
	case route.GuestOnly && loggedIn:
		return RedirectTo(PathHome)
	default:
		return Proceed()
	}
}

// catchAll matches unregistered paths and always redirects to the login page.
var catchAll = Route{Path: "/*", Name: "NotFound"}

// Table is an immutable route table.
type Table struct {
	routes map[string]Route
	order  []string
}

// NewTable validates and registers routes.
func NewTable(routes ...Route) (*Table, error) {
	t := &Table{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		r.Path = normalize(r.Path)
		if r.Path == "" {
			return nil, ErrEmptyPath
		}
		if r.GuestOnly && r.RequiresAuth {
			return nil, fmt.Errorf("%s: %w", r.Path, ErrConflictFlags)
		}
		if _, exists := t.routes[r.Path]; exists {
			return nil, fmt.Errorf("%s: %w", r.Path, ErrDuplicateRoute)
		}
		t.routes[r.Path] = r
		t.order = append(t.order, r.Path)
	}
	return t, nil
}

// DefaultRoutes is the application's static route table.
func DefaultRoutes() []Route {
	return []Route{
		{Path: PathRoot, Name: "Root"},
		{Path: PathLogin, Name: "Login", GuestOnly: true},
		{Path: PathHome, Name: "Home", RequiresAuth: true},
	}
}

// DefaultTable returns a table holding DefaultRoutes.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRoutes()...)
	if err != nil {
		panic(err)
	}
	return t
}

// Routes returns the registered routes in registration order.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.order))
	for _, p := range t.order {
		out = append(out, t.routes[p])
	}
	return out
}

// Resolve returns the route registered for path, or the catch-all.
func (t *Table) Resolve(path string) (Route, bool) {
	r, ok := t.routes[normalize(path)]
	if !ok {
		return catchAll, false
	}
	return r, true
}

// Navigate resolves path and decides its outcome.
func (t *Table) Navigate(path string, loggedIn bool) (Route, Outcome) {
	r, ok := t.Resolve(path)
	if !ok {
		return r, RedirectTo(PathLogin)
	}
	return r, Decide(r, loggedIn)
}

// Follow applies redirects until a route proceeds and returns the final path.
func (t *Table) Follow(path string, loggedIn bool) (string, error) {
	current := normalize(path)
	for i := 0; i < maxRedirects; i++ {
		_, outcome := t.Navigate(current, loggedIn)
		if outcome.Proceed {
			return current, nil
		}
		current = outcome.Redirect
	}
	return "", fmt.Errorf("%s: %w", path, ErrRedirectLoop)
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}
