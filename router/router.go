// Package router maps Yar method names to handler actions.
//
// Routes are registered at startup, optionally inside groups that prefix
// controller targets with a namespace:
//
//	r := router.New()
//	r.AddRoute("ping", func(ctx context.Context, args []any) (any, error) { return "pong", nil })
//	r.Group(router.GroupAttributes{Namespace: "App"}, func(r *router.Router) {
//		r.AddRoute("user.find", "User@find") // stored as `App\User@find`
//	})
//	table := r.Routes()
//
// The returned RouteTable is immutable and shared by all task workers.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

const (
	// NamespaceSeparator joins a group namespace and a controller target.
	NamespaceSeparator = `\`
	// TargetSeparator splits "Controller@method".
	TargetSeparator = "@"
)

var ErrNotFound = errors.New("router: route not found")

// Action is what a route runs: either a named Target resolved through a
// Resolver, or an inline Callable.
type Action struct {
	Target   string
	Callable Handler
}

// IsTarget reports whether the action is a named reference.
func (a Action) IsTarget() bool {
	return a.Callable == nil && a.Target != ""
}

type Route struct {
	Method string
	Action Action
}

// GroupAttributes is the scope applied to routes registered inside Group.
// Only Namespace is consulted.
type GroupAttributes struct {
	Namespace string
}

// Router collects routes. It is not safe for concurrent registration; build it
// on one goroutine and hand out Routes().
type Router struct {
	routes map[string]Route
	group  *GroupAttributes
}

func New() *Router {
	return &Router{routes: make(map[string]Route)}
}

// AddRoute binds method to action. A later registration for the same method
// replaces the earlier one.
//
// action may be a target string ("User@find"), an Action or *Action, a Handler,
// a func(context.Context, []any) (any, error), or any other func, which is
// wrapped with Func. Anything else panics.
func (r *Router) AddRoute(method string, action any) {
	a := parseAction(action)
	if r.group != nil {
		a = mergeGroup(*r.group, a)
	}
	r.routes[method] = Route{Method: method, Action: a}
}

// Group runs fn with attrs as the active scope and restores the enclosing
// scope afterwards, including when fn panics.
func (r *Router) Group(attrs GroupAttributes, fn func(r *Router)) {
	parent := r.group
	r.group = &attrs
	defer func() { r.group = parent }()

	fn(r)
}

// Lookup finds a route by exact method name.
func (r *Router) Lookup(method string) (Route, bool) {
	route, ok := r.routes[method]
	return route, ok
}

// Routes returns an immutable snapshot of the registered routes.
func (r *Router) Routes() RouteTable {
	routes := make(map[string]Route, len(r.routes))
	for k, v := range r.routes {
		routes[k] = v
	}
	return RouteTable{routes: routes}
}

func parseAction(action any) Action {
	switch a := action.(type) {
	case string:
		return Action{Target: a}
	case Action:
		return a
	case *Action:
		return *a
	case Handler:
		return Action{Callable: a}
	case func(context.Context, []any) (any, error):
		return Action{Callable: HandlerFunc(a)}
	case nil:
		panic("router: nil action")
	default:
		return Action{Callable: Func(a)}
	}
}

func mergeGroup(attrs GroupAttributes, a Action) Action {
	if attrs.Namespace != "" && a.IsTarget() {
		a.Target = attrs.Namespace + NamespaceSeparator + a.Target
	}
	return a
}

// RouteTable is a read-only view of a Router.
type RouteTable struct {
	routes map[string]Route
}

// Lookup finds a route by exact method name. Unknown methods wrap ErrNotFound.
func (t RouteTable) Lookup(method string) (Route, error) {
	route, ok := t.routes[method]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrNotFound, method)
	}
	return route, nil
}

func (t RouteTable) Len() int {
	return len(t.routes)
}

// Methods lists registered method names in sorted order.
func (t RouteTable) Methods() []string {
	methods := make([]string, 0, len(t.routes))
	for m := range t.routes {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
