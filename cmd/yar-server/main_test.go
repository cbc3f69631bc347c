package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"yar-rpc/config"
	"yar-rpc/message"
	"yar-rpc/server"
)

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yar.toml")
	os.WriteFile(path, []byte("host = \"127.0.0.1\"\nport = 9600\n"), 0o644)

	cfg, err := loadConfig(options{configPath: path, port: 9700, daemonize: true})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr() != "127.0.0.1:9700" || !cfg.Daemonize {
		t.Fatalf("flags should override the file: %+v", cfg)
	}

	if _, err := loadConfig(options{port: 70000}); err == nil {
		t.Fatal("expect validation error")
	}
}

func TestRunVersionAndUnknownCommand(t *testing.T) {
	if err := run([]string{"-v"}); err != nil {
		t.Fatal(err)
	}
	if err := run([]string{"bogus"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expect unknown command error, got %v", err)
	}
}

func TestSampleRoutes(t *testing.T) {
	routes, resolver, err := buildRoutes()
	if err != nil {
		t.Fatal(err)
	}
	d := server.NewDispatcher(routes, resolver, server.NewReporter(zerolog.New(io.Discard)))

	tests := []struct {
		method string
		params []any
		status int
		result any
	}{
		{"ping", nil, message.StatusOK, "pong"},
		{"version", nil, message.StatusOK, server.Version},
		{"hello", []any{"yar"}, message.StatusOK, "hello yar"},
		{"hello", []any{""}, message.StatusException, nil},
		{"math.add", []any{int8(2), int8(3)}, message.StatusOK, 5.0},
		{"math.sub", []any{5.5, 0.5}, message.StatusOK, 5.0},
		{"math.sum", []any{1, 2, 3}, message.StatusOK, 6.0},
		{"math.div", []any{1, 0}, message.StatusException, nil},
		{"missing", nil, message.StatusException, nil},
	}
	for _, tt := range tests {
		resp := d.Dispatch(context.Background(), &message.Request{ID: 1, Method: tt.method, Params: tt.params})
		if resp.Status != tt.status {
			t.Fatalf("%s: expect status %#x, got %+v", tt.method, tt.status, resp)
		}
		if tt.result != nil && resp.Result != tt.result {
			t.Fatalf("%s: expect %v, got %v", tt.method, tt.result, resp.Result)
		}
	}
}

func TestNewServerWithRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Rate = 10
	cfg.RateLimit.Burst = 1
	if _, err := newServer(cfg, zerolog.New(io.Discard)); err != nil {
		t.Fatal(err)
	}
}
