package main

import (
	"errors"
	"os"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/client"
	"github.com/spf13/pflag"
)

type cliArgs struct {
	url            string
	user           string
	channel        string
	token          string
	sessionURL     string
	senderName     string
	metricsAddr    string
	sampleInterval time.Duration
	verbose        bool
}

var errNoChannel = errors.New("sessionmux: either --channel or --session-url is required")

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseArgs(argv []string) (cliArgs, error) {
	args := cliArgs{
		url:            client.EndpointFromEnv(),
		user:           getEnvString("SESSIONMUX_USER", ""),
		channel:        getEnvString("SESSIONMUX_CHANNEL", ""),
		token:          getEnvString("SESSIONMUX_TOKEN", ""),
		sessionURL:     getEnvString("SESSIONMUX_SESSION_URL", ""),
		senderName:     getEnvString("SESSIONMUX_SENDER_NAME", "user"),
		metricsAddr:    getEnvString("SESSIONMUX_METRICS_ADDR", ""),
		sampleInterval: getEnvDuration("SESSIONMUX_SAMPLE_INTERVAL", 30*time.Second),
	}

	flags := pflag.NewFlagSet("sessionmux", pflag.ContinueOnError)
	flags.StringVarP(&args.url, "url", "u", args.url, "Backend websocket endpoint (env: SESSIONMUX_SERVER_URL)")
	flags.StringVar(&args.user, "user", args.user, "Client id; generated when empty (env: SESSIONMUX_USER)")
	flags.StringVarP(&args.channel, "channel", "c", args.channel, "Channel to join and chat in (env: SESSIONMUX_CHANNEL)")
	flags.StringVarP(&args.token, "token", "t", args.token, "Bearer credential for the handshake (env: SESSIONMUX_TOKEN)")
	flags.StringVar(&args.sessionURL, "session-url", args.sessionURL, "Session service endpoint used to mint a channel (env: SESSIONMUX_SESSION_URL)")
	flags.StringVar(&args.senderName, "sender-name", args.senderName, "Display name on outbound messages (env: SESSIONMUX_SENDER_NAME)")
	flags.StringVar(&args.metricsAddr, "metrics-addr", args.metricsAddr, "Serve /metrics and /debug/diagnostics on this address (env: SESSIONMUX_METRICS_ADDR)")
	flags.DurationVar(&args.sampleInterval, "sample-interval", args.sampleInterval, "Diagnostics sampling period (env: SESSIONMUX_SAMPLE_INTERVAL)")
	flags.BoolVarP(&args.verbose, "verbose", "v", false, "Debug logging and mirrored debug events")

	if err := flags.Parse(argv); err != nil {
		return args, err
	}
	if args.channel == "" && args.sessionURL == "" {
		return args, errNoChannel
	}
	if args.sampleInterval <= 0 {
		return args, errors.New("sessionmux: --sample-interval must be positive")
	}
	return args, nil
}
