package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	maxAttempts     = 3
	initialInterval = 500 * time.Millisecond
)

// Client is a generic UPnP SOAP transport. It knows nothing about which
// actions it carries; AVTransport, RenderingControl and ZoneGroupTopology
// all go through the same Invoke path.
type Client struct {
	log        *logrus.Entry
	httpClient *http.Client
}

// NewClient creates a SOAP client with the given per-request timeout.
// Connections are pooled since a cast session hits the same device
// repeatedly.
func NewClient(log *logrus.Entry, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		log: log,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Invoke posts one SOAP action to controlURL and returns the raw response
// body. Transient failures (HTTP 500/502/503/504 or a transport error) are
// retried up to twice with exponential backoff (0.5s, 1s); anything else
// aborts immediately.
func (c *Client) Invoke(ctx context.Context, serviceType, controlURL, action string, args []Arg) ([]byte, error) {
	var payload []byte
	var lastErr error
	attempts := 0

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialInterval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2

	operation := func() error {
		attempts++
		body, err := c.post(ctx, serviceType, controlURL, action, args)
		if err == nil {
			payload = body
			return nil
		}
		lastErr = err
		if !transient(err) {
			return backoff.Permanent(err)
		}
		c.log.WithError(err).Debugf("retrying %s (attempt %d)", action, attempts)
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxAttempts-1), ctx))
	if err == nil {
		return payload, nil
	}
	if !transient(err) {
		return nil, err
	}
	return nil, &PlaybackError{Action: action, Attempts: attempts, Cause: lastErr}
}

func (c *Client) post(ctx context.Context, serviceType, controlURL, action string, args []Arg) ([]byte, error) {
	envelope := BuildEnvelope(serviceType, action, args)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(envelope))
	if err != nil {
		return nil, &NetworkError{Action: action, Err: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=\"utf-8\"")
	req.Header.Set("SOAPACTION", "\""+serviceType+"#"+action+"\"")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Action: action, Err: err}
	}

	switch {
	case resp.StatusCode < 400:
		return payload, nil
	case resp.StatusCode == 500 && !isSoapFault(payload):
		// A bare 500 without a fault body is a device hiccup, not a
		// rejected action.
		return nil, &StatusError{Action: action, Status: resp.StatusCode}
	case resp.StatusCode == 502 || resp.StatusCode == 503 || resp.StatusCode == 504:
		return nil, &StatusError{Action: action, Status: resp.StatusCode}
	default:
		code, desc := parseFault(payload)
		return nil, &FaultError{Action: action, Status: resp.StatusCode, Code: code, Description: desc}
	}
}

func transient(err error) bool {
	switch err.(type) {
	case *StatusError, *NetworkError:
		return true
	}
	return false
}

// BuildEnvelope produces a SOAP 1.1 envelope wrapping action with its
// ordered arguments, XML-escaping every value.
func BuildEnvelope(serviceType, action string, args []Arg) []byte {
	var buf strings.Builder
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	buf.WriteString("<s:Body>")
	buf.WriteString("<u:")
	buf.WriteString(action)
	buf.WriteString(` xmlns:u="`)
	buf.WriteString(serviceType)
	buf.WriteString(`">`)

	for _, arg := range args {
		buf.WriteString("<")
		buf.WriteString(arg.Name)
		buf.WriteString(">")
		buf.WriteString(EscapeXML(arg.Value))
		buf.WriteString("</")
		buf.WriteString(arg.Name)
		buf.WriteString(">")
	}

	buf.WriteString("</u:")
	buf.WriteString(action)
	buf.WriteString(">")
	buf.WriteString("</s:Body>")
	buf.WriteString("</s:Envelope>")

	return []byte(buf.String())
}

// EscapeXML escapes a value for embedding in element content.
func EscapeXML(input string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(input)); err != nil {
		return input
	}
	return b.String()
}

func isSoapFault(payload []byte) bool {
	code, _ := parseFault(payload)
	return code != ""
}

func parseFault(payload []byte) (string, string) {
	return ParseTextValue(payload, "errorCode"), ParseTextValue(payload, "errorDescription")
}
