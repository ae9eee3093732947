package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jsamuelsen/jsonrequest/internal/app"
)

// options holds the parsed command-line flags.
type options struct {
	method      string
	data        []string
	headers     []string
	contentType string
	count       int
	noCache     bool
	metrics     bool

	profile   string
	configDir string
	envFile   string
	logLevel  string
}

func (o *options) bind(cmd *cobra.Command) {
	profile := os.Getenv("JSONREQ_PROFILE")
	if profile == "" {
		profile = "local"
	}

	f := cmd.Flags()
	f.StringVarP(&o.method, "request", "X", "GET", "HTTP method")
	f.StringArrayVarP(&o.data, "data", "d", nil, "request parameter as key=value (repeatable)")
	f.StringArrayVarP(&o.headers, "header", "H", nil, "request header as 'Name: value' (repeatable)")
	f.StringVar(&o.contentType, "content-type", "", "body content type (form encoded unless set to application/json)")
	f.IntVarP(&o.count, "count", "n", 1, "send each URL this many times in sequence")
	f.BoolVar(&o.noCache, "no-cache", false, "bypass the response cache")
	f.BoolVar(&o.metrics, "metrics", false, "print Prometheus metrics after the run")

	f.StringVar(&o.profile, "profile", profile, "config profile (configs/{profile}.yaml)")
	f.StringVar(&o.configDir, "config-dir", "configs", "directory holding base.yaml and profile files")
	f.StringVar(&o.envFile, "env-file", ".env", "dotenv file with JSONREQ_ overrides")
	f.StringVar(&o.logLevel, "log-level", "", "override log.level")
}

// target builds the request description for one URL.
func (o *options) target(rawURL string) (app.Target, error) {
	params, err := parseData(o.data)
	if err != nil {
		return app.Target{}, err
	}

	headers, err := parseHeaders(o.headers)
	if err != nil {
		return app.Target{}, err
	}

	return app.Target{
		Method:      o.method,
		URL:         rawURL,
		Params:      params,
		Headers:     headers,
		ContentType: o.contentType,
		NoCache:     o.noCache,
	}, nil
}

// parseData turns key=value pairs into parameters. Later keys win.
func parseData(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --data %q: want key=value", pair)
		}

		params[key] = value
	}

	return params, nil
}

// parseHeaders turns "Name: value" lines into headers.
func parseHeaders(lines []string) (map[string]string, error) {
	headers := make(map[string]string, len(lines))

	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)

		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --header %q: want 'Name: value'", line)
		}

		headers[name] = strings.TrimSpace(value)
	}

	return headers, nil
}
