package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	// EndpointPath is the upload endpoint on the extraction server
	EndpointPath = "/extract-invoice/"

	// formField is the multipart field the server reads the file from
	formField = "file"

	// maxResponseSize caps how much of a response body is read (10MB)
	maxResponseSize = int64(10 << 20)
)

// Extractor sends a file to the extraction server
type Extractor interface {
	Extract(ctx context.Context, file *File) (*Response, error)
}

// Client talks to the extract-invoice endpoint over HTTP
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// NewClient creates a new Client with a default HTTP client.
// Timeouts are driven by the request context, not the HTTP client.
func NewClient(baseURL string) (*Client, error) {
	return NewClientWithHTTP(baseURL, &http.Client{})
}

// NewClientWithHTTP creates a new Client with a custom HTTP client
func NewClientWithHTTP(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server url must be absolute: %q", baseURL)
	}
	return &Client{
		baseURL: u,
		http:    httpClient,
	}, nil
}

// endpoint returns the absolute URL of the upload endpoint
func (c *Client) endpoint() string {
	return strings.TrimRight(c.baseURL.String(), "/") + EndpointPath
}

// ResolveImageURL resolves an image URL returned by the server against the
// server base URL. Absolute URLs are returned unchanged.
func (c *Client) ResolveImageURL(imageURL string) string {
	ref, err := url.Parse(imageURL)
	if err != nil {
		return imageURL
	}
	return c.baseURL.ResolveReference(ref).String()
}

// buildForm encodes the file as a multipart form body
func buildForm(file *File) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, formField, escapeQuotes(file.Name)))
	h.Set("Content-Type", contentType)

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("creating form part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("writing form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// Extract uploads the file and decodes the server response.
// A response without an image URL is reported as a ServerError.
func (c *Client) Extract(ctx context.Context, file *File) (*Response, error) {
	if file == nil {
		return nil, ErrNoFileSelected
	}

	body, contentType, err := buildForm(file)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	slog.Debug("Uploading invoice",
		"request_id", requestID,
		"filename", file.Name,
		"content_type", file.ContentType,
		"file_size", len(file.Data),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &NetworkError{Err: fmt.Errorf("calling extract endpoint: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &NetworkError{Err: fmt.Errorf("reading response: %w", err)}
	}

	var result Response
	decodeErr := json.Unmarshal(data, &result)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := defaultServerMessage
		if decodeErr == nil {
			message = result.message()
		}
		slog.Warn("Extraction failed", "request_id", requestID, "status", resp.StatusCode, "error", message)
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: message}
	}

	if decodeErr != nil {
		return nil, &NetworkError{Err: fmt.Errorf("decoding response: %w", decodeErr)}
	}

	if result.ImageURL == "" {
		slog.Warn("Extraction returned no image", "request_id", requestID, "error", result.Error)
		return nil, &ServerError{Message: result.message()}
	}

	slog.Debug("Invoice extracted", "request_id", requestID, "image_url", result.ImageURL)
	return &result, nil
}

// message returns the error text carried by a failed response
func (r *Response) message() string {
	if r.Error != "" {
		return r.Error
	}
	if len(r.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(r.Detail, &detail); err == nil && detail != "" {
			return detail
		}
		return string(r.Detail)
	}
	return defaultServerMessage
}
