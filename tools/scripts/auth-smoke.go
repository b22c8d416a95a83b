// Package main provides a CI-friendly smoke test for a running tenantauth server.
//
// It validates:
//   - login returns a token pair
//   - refresh rotates, and the old refresh token is then rejected
//   - logout revokes one refresh token
//   - logout-all revokes every remaining session of the user
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const maxReadBytes = 1 << 20 // 1MiB

type pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type smokeClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
	verbose bool
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		tenant   = flag.String("tenant", "acme", "Tenant to log in to")
		username = flag.String("user", "admin", "Username of a seeded account")
		password = flag.String("password", os.Getenv("TENANTAUTH_SMOKE_PASSWORD"), "Password (default from TENANTAUTH_SMOKE_PASSWORD)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *password == "" {
		fatalf("missing -password")
	}

	c := &smokeClient{
		base:    strings.TrimRight(*baseURL, "/"),
		http:    &http.Client{Timeout: *timeout},
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()
	creds := map[string]string{"tenant": *tenant, "username": *username, "password": *password}

	first := c.mustLogin(root, creds)
	second := c.mustLogin(root, creds)

	rotated := c.mustRefresh(root, first.RefreshToken)
	c.mustStatus(root, "/auth/refresh", "", map[string]string{"refreshToken": first.RefreshToken}, http.StatusUnauthorized)

	c.mustStatus(root, "/auth/logout", rotated.AccessToken, map[string]string{"refreshToken": rotated.RefreshToken}, http.StatusOK)
	c.mustStatus(root, "/auth/refresh", "", map[string]string{"refreshToken": rotated.RefreshToken}, http.StatusUnauthorized)

	c.mustStatus(root, "/auth/logout-all", second.AccessToken, nil, http.StatusNoContent)
	c.mustStatus(root, "/auth/refresh", "", map[string]string{"refreshToken": second.RefreshToken}, http.StatusUnauthorized)

	fmt.Printf("OK: tenant=%s user=%s\n", *tenant, *username)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c *smokeClient) mustLogin(parent context.Context, creds map[string]string) pair {
	var p pair
	body := c.mustStatus(parent, "/auth/login", "", creds, http.StatusOK)
	if err := json.Unmarshal(body, &p); err != nil {
		fatalf("login: decode: %v", err)
	}
	if p.AccessToken == "" || p.RefreshToken == "" {
		fatalf("login: incomplete token pair")
	}
	return p
}

func (c *smokeClient) mustRefresh(parent context.Context, refresh string) pair {
	var p pair
	body := c.mustStatus(parent, "/auth/refresh", "", map[string]string{"refreshToken": refresh}, http.StatusOK)
	if err := json.Unmarshal(body, &p); err != nil {
		fatalf("refresh: decode: %v", err)
	}
	if p.RefreshToken == refresh {
		fatalf("refresh: token was not rotated")
	}
	return p
}

func (c *smokeClient) mustStatus(parent context.Context, path, bearer string, payload any, want int) []byte {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	var rd io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			fatalf("%s: encode: %v", path, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, rd)
	if err != nil {
		fatalf("%s: request: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s: read: %v", path, err)
	}
	if resp.StatusCode != want {
		fatalf("%s: status=%d want=%d body=%s", path, resp.StatusCode, want, strings.TrimSpace(string(body)))
	}
	if c.verbose {
		fmt.Printf("%s -> %d\n", path, resp.StatusCode)
	}
	return body
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
