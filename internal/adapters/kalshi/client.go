package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

	// Documented limit for the basic tier is 10 reads/s; run at 60%.
	readsPerSec  = 6
	writesPerSec = 2

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client is the Kalshi HTTP client with RSA-PSS request signing, rate
// limiting and retries. Retries are safe on reads and on order submission
// because the client order id makes resubmission idempotent.
type Client struct {
	http        *http.Client
	baseURL     string
	keyID       string
	key         *rsa.PrivateKey
	readLimiter *rate.Limiter
	// writeLimiter also serializes order submissions.
	writeLimiter *rate.Limiter
}

// NewClient creates a client for the given base URL, loading the RSA private
// key from keyPath (PEM, PKCS#1 or PKCS#8). An empty keyID leaves the client
// unauthenticated; public endpoints still work.
func NewClient(baseURL, keyID, keyPath string) (*Client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		http:         &http.Client{Timeout: 10 * time.Second},
		baseURL:      baseURL,
		keyID:        keyID,
		readLimiter:  rate.NewLimiter(readsPerSec, 10),
		writeLimiter: rate.NewLimiter(writesPerSec, 2),
	}
	if keyID != "" {
		key, err := loadPrivateKey(keyPath)
		if err != nil {
			return nil, fmt.Errorf("kalshi.NewClient: %w", err)
		}
		c.key = key
	}
	return c, nil
}

// loadPrivateKey reads an RSA private key from a PEM file.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %q: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %q", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key %q: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key %q is not RSA", path)
	}
	return key, nil
}

// get performs a signed GET. path starts with "/", query may be nil.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return c.doWithRetry(ctx, c.readLimiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if err := c.sign(req); err != nil {
			return nil, err
		}
		return c.http.Do(req)
	}, out)
}

// post performs a signed JSON POST.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	full := c.baseURL + path
	return c.doWithRetry(ctx, c.writeLimiter, func() (*http.Response, error) {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, full, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if err := c.sign(req); err != nil {
			return nil, err
		}
		return c.http.Do(req)
	}, out)
}

// sign adds the Kalshi access headers: RSA-PSS SHA-256 over
// timestamp + method + path (query excluded).
func (c *Client) sign(req *http.Request) error {
	if c.key == nil {
		return nil
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	msg := ts + req.Method + req.URL.Path

	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, c.key, crypto.SHA256, digest[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.keyID)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(sig))
	return nil
}

// doWithRetry runs the request with exponential backoff and jitter. 429 and
// 5xx retry; other statuses surface immediately.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("kalshi: rate limited", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("kalshi: status %d: %s", resp.StatusCode, truncate(body, 200))
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return errors.New("unreachable")
}

// sleep waits with exponential backoff plus jitter, honoring the context.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(float64(baseRetryWait) * math.Pow(2, float64(attempt)))
	if j, err := rand.Int(rand.Reader, big.NewInt(int64(wait/4)+1)); err == nil {
		wait += time.Duration(j.Int64())
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
