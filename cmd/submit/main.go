// Command submit queues a source file on a running server and polls until it finishes.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
)

func main() {
	server := flag.String("server", "http://localhost:3000", "base URL of the compilation server")
	lang := flag.String("lang", "", "language of the source file")
	interval := flag.Duration("interval", 500*time.Millisecond, "poll interval")
	timeout := flag.Duration("timeout", 2*time.Minute, "give up after this long")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *lang == "" || flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s -lang <language> <file>\n", os.Args[0])
		os.Exit(2)
	}
	code, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read source")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c := &client{base: *server, http: &http.Client{Timeout: 30 * time.Second}}

	id, err := c.submit(ctx, *lang, string(code))
	if err != nil {
		logger.Fatal().Err(err).Msg("submission failed")
	}
	logger.Info().Str("id", id).Msg("submitted")

	req, err := c.await(ctx, id, *interval, func(s domain.Status) {
		logger.Info().Str("id", id).Str("status", string(s)).Msg("status changed")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("polling failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(req)
	if req.Status != domain.StatusCompleted || req.Result == nil || !req.Result.Success {
		os.Exit(1)
	}
}

type client struct {
	base string
	http *http.Client
}

func (c *client) submit(ctx context.Context, language, code string) (string, error) {
	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/compiler/"+url.PathEscape(language), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(req, http.StatusAccepted, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// await polls until the request reaches a terminal status, reporting each new status.
func (c *client) await(ctx context.Context, id string, interval time.Duration, onStatus func(domain.Status)) (domain.CompilationRequest, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last domain.Status
	for {
		req, err := c.poll(ctx, id)
		if err != nil {
			return domain.CompilationRequest{}, err
		}
		if req.Status != last {
			last = req.Status
			onStatus(last)
		}
		if req.Status.Terminal() {
			return req, nil
		}

		select {
		case <-ctx.Done():
			return domain.CompilationRequest{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *client) poll(ctx context.Context, id string) (domain.CompilationRequest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/compiler/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.CompilationRequest{}, err
	}
	var out domain.CompilationRequest
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return domain.CompilationRequest{}, err
	}
	return out, nil
}

func (c *client) do(req *http.Request, want int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return errors.New(resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
