// yar-call sends one Yar call and prints the result as JSON.
//
//	yar-call -addr 127.0.0.1:9501 math.add 1 2
//	yar-call -etcd 127.0.0.1:2379 -service yar ping
//
// Params are parsed as JSON values; anything that is not valid JSON is sent
// as a string.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"yar-rpc/client"
	"yar-rpc/codec"
	"yar-rpc/loadbalance"
	"yar-rpc/registry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "yar-call: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("yar-call", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:9501", "server address")
	etcd := fs.String("etcd", "", "comma separated etcd endpoints; overrides -addr")
	service := fs.String("service", "yar", "service name in the registry")
	balancer := fs.String("balancer", "round_robin", "round_robin, weighted_random or consistent_hash")
	packager := fs.String("packager", codec.MsgpackName, "MSGPACK or JSON")
	provider := fs.String("provider", "yar-call", "provider header field")
	token := fs.String("token", "", "token header field")
	timeout := fs.Duration("timeout", 5*time.Second, "call timeout")
	retries := fs.Int("retries", 2, "retries on transport failure")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: yar-call [flags] method [params...]")
	}

	c, ok := codec.GetCodec(*packager)
	if !ok {
		return fmt.Errorf("unknown packager %q", *packager)
	}

	var reg registry.Registry
	if *etcd != "" {
		er, err := registry.NewEtcdRegistry(strings.Split(*etcd, ","), *timeout)
		if err != nil {
			return err
		}
		defer er.Close()
		reg = er
	} else {
		mr := registry.NewMemoryRegistry()
		mr.Register(context.Background(), *service, registry.ServiceInstance{Addr: *addr}, 0)
		reg = mr
	}

	cli := client.NewClient(reg, loadbalance.New(*balancer), *service, client.Options{
		Conn: client.ConnOptions{
			Codec:    c,
			Provider: *provider,
			Token:    *token,
		},
		MaxRetries: *retries,
	})
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := cli.Call(ctx, fs.Arg(0), parseParams(fs.Args()[1:])...)
	if err != nil {
		return err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, a := range args {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err != nil {
			v = a
		}
		params = append(params, v)
	}
	return params
}
