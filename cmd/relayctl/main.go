// Relayctl sends one sponsored action through the first reachable relay and
// optionally waits for its confirmation.
//
//	relayctl --relayer http://relay-a:8787 --relayer http://relay-b:8787 \
//	    --token "$TOKEN" --method nft.mint --params '{"to":"0xabc"}' --wait
//
// With --status HASH it only prints the relay-side status of an earlier action.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"relayer/internal/dispatch"
)

const defaultRelayer = "http://localhost:8787"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		relayers []string
		token    string
		method   string
		params   string
		status   string
		wait     bool
		timeout  time.Duration
		verbose  bool
	)

	flagSet := pflag.NewFlagSet("relayctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringArrayVar(&relayers, "relayer", nil, "relay base URL, repeatable, tried in order (default $RELAYER_URL, then "+defaultRelayer+")")
	flagSet.StringVar(&token, "token", os.Getenv("RELAYER_TOKEN"), "session token; anonymous when empty")
	flagSet.StringVar(&method, "method", "", "action method, e.g. nft.mint")
	flagSet.StringVar(&params, "params", "", "action params as a JSON value")
	flagSet.StringVar(&status, "status", "", "print the status of an earlier action hash and exit")
	flagSet.BoolVar(&wait, "wait", false, "wait for the confirmed notification")
	flagSet.DurationVar(&timeout, "timeout", dispatch.DefaultTimeout, "per-relay request timeout")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log failed relay attempts")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if env := os.Getenv("RELAYER_URL"); env != "" {
		relayers = append(relayers, env)
	}
	relayers = append(relayers, defaultRelayer)

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	d := dispatch.New(relayers, dispatch.WithTimeout(timeout), dispatch.WithLogger(logger))

	if status != "" {
		st, err := d.Status(ctx, status)
		if err != nil {
			return err
		}
		return printJSON(stdout, st)
	}

	if method == "" {
		return fmt.Errorf("--method is required")
	}
	payload := dispatch.Payload{Method: method}
	if params != "" {
		var v any
		if err := json.Unmarshal([]byte(params), &v); err != nil {
			return fmt.Errorf("--params: %w", err)
		}
		payload.Params = v
	}

	var (
		receipt     dispatch.Receipt
		updates     chan string
		unsubscribe = func() {}
		err         error
	)
	if wait {
		updates = make(chan string, 2)
		receipt, unsubscribe, err = d.SendWatch(ctx, token, payload, func(s string) { updates <- s })
	} else {
		receipt, err = d.Send(ctx, token, payload)
	}
	defer unsubscribe()
	if err != nil {
		return err
	}
	if err := printJSON(stdout, receipt); err != nil {
		return err
	}
	if !wait {
		return nil
	}

	for {
		select {
		case s := <-updates:
			fmt.Fprintf(stdout, "%s %s\n", receipt.Hash, s)
			if s == "confirmed" {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
