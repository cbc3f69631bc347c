package main

import (
	"context"
	"errors"
	"time"

	"yar-rpc/message"
	"yar-rpc/router"
	"yar-rpc/server"
)

// MathController is exposed as `App\Math`.
type MathController struct{}

func (m *MathController) Add(a, b float64) float64 { return a + b }

func (m *MathController) Sub(a, b float64) float64 { return a - b }

func (m *MathController) Div(a, b float64) (float64, error) {
	if b == 0 {
		return 0, message.NewError(1, "division by zero")
	}
	return a / b, nil
}

func (m *MathController) Sum(nums ...float64) float64 {
	var total float64
	for _, n := range nums {
		total += n
	}
	return total
}

var errNoName = errors.New("name is required")

func buildRoutes() (router.RouteTable, router.Resolver, error) {
	c := router.NewContainer()
	if err := c.RegisterController(`App\Math`, &MathController{}); err != nil {
		return router.RouteTable{}, nil, err
	}

	r := router.New()
	r.AddRoute("ping", func(ctx context.Context, args []any) (any, error) {
		return "pong", nil
	})
	r.AddRoute("version", func() string { return server.Version })
	r.AddRoute("time", func() int64 { return time.Now().Unix() })
	r.AddRoute("hello", func(name string) (string, error) {
		if name == "" {
			return "", errNoName
		}
		return "hello " + name, nil
	})
	r.AddRoute("client", func(ctx context.Context) map[string]any {
		h, _ := server.HeaderFromContext(ctx)
		id, _ := server.ConnIDFromContext(ctx)
		return map[string]any{"provider": h.Provider, "conn": id}
	})

	r.Group(router.GroupAttributes{Namespace: "App"}, func(r *router.Router) {
		r.AddRoute("math.add", "Math@add")
		r.AddRoute("math.sub", "Math@sub")
		r.AddRoute("math.div", "Math@div")
		r.AddRoute("math.sum", "Math@sum")
	})

	return r.Routes(), c, nil
}
