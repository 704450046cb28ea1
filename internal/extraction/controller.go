package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// DefaultRequestTimeout bounds a single upload
	DefaultRequestTimeout = 25 * time.Second

	// DefaultNoticeDuration is how long the timeout notice stays up
	DefaultNoticeDuration = 3 * time.Second
)

// Messages shown to the user
const (
	ProcessingMessage   = "Processing... Please wait"
	TimeoutMessage      = "Processing is taking longer than expected. Please try again after some time."
	NoFileMessage       = "Please select an invoice image."
	GenericErrorMessage = "An error occurred while processing the invoice."
	ServerErrorPrefix   = "Error extracting data: "
)

// Controller binds a submit action to an upload and renders the outcome.
// Only one submit runs at a time; a submit made while another is running
// (including its timeout notice) is ignored with ErrBusy.
type Controller struct {
	extractor      Extractor
	ui             UI
	requestTimeout time.Duration
	noticeDuration time.Duration
	inFlight       atomic.Bool

	// afterReceive runs once the request outcome is known; nil outside tests
	afterReceive func()
}

// NewController creates a new Controller with the default timings
func NewController(extractor Extractor, ui UI) *Controller {
	return NewControllerWithTimings(extractor, ui, DefaultRequestTimeout, DefaultNoticeDuration)
}

// NewControllerWithTimings creates a new Controller with custom timings
func NewControllerWithTimings(extractor Extractor, ui UI, requestTimeout, noticeDuration time.Duration) *Controller {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	if noticeDuration < 0 {
		noticeDuration = 0
	}
	return &Controller{
		extractor:      extractor,
		ui:             ui,
		requestTimeout: requestTimeout,
		noticeDuration: noticeDuration,
	}
}

type extractResult struct {
	resp *Response
	err  error
}

// Submit uploads the file and renders the result. Every failure has already
// been shown to the user when Submit returns; the error is for the caller.
func (c *Controller) Submit(ctx context.Context, file *File) error {
	if file == nil {
		c.ui.NotifyError(NoFileMessage)
		return ErrNoFileSelected
	}

	if !c.inFlight.CompareAndSwap(false, true) {
		slog.Warn("Ignoring submit while extraction is in progress")
		return ErrBusy
	}
	defer c.inFlight.Store(false)

	c.ui.SetProcessing(true, ProcessingMessage)
	c.ui.ShowResults(false)
	c.ui.SetExtractedText("")

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	// Buffered so a response arriving after the deadline never blocks
	results := make(chan extractResult, 1)
	go func() {
		resp, err := c.extractor.Extract(reqCtx, file)
		results <- extractResult{resp: resp, err: err}
	}()

	var res extractResult
	select {
	case res = <-results:
	case <-reqCtx.Done():
		// A response arriving after this point is never read
		res = extractResult{err: reqCtx.Err()}
	}
	if c.afterReceive != nil {
		c.afterReceive()
	}

	// Decided on what the select produced; a response that won the race is
	// rendered even if the deadline fires right after
	if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, ErrTimeout) {
		slog.Error("Extraction timed out", "filename", file.Name, "timeout", c.requestTimeout)
		return c.timedOut(ctx)
	}

	if res.err == nil && (res.resp == nil || res.resp.ImageURL == "") {
		message := defaultServerMessage
		if res.resp != nil {
			message = res.resp.message()
		}
		res.err = &ServerError{Message: message}
	}

	if res.err != nil {
		return c.failed(ctx, file, res.err)
	}

	c.ui.SetImage(res.resp.ImageURL)
	c.ui.SetExtractedText(prettyJSON(res.resp.ExtractedText))
	c.ui.ShowResults(true)
	c.ui.SetProcessing(false, ProcessingMessage)

	slog.Info("Invoice extracted", "filename", file.Name, "image_url", res.resp.ImageURL)
	return nil
}

// timedOut shows the timeout notice for the notice duration, then resets
// the indicator for the next attempt
func (c *Controller) timedOut(ctx context.Context) error {
	c.ui.SetProcessing(true, TimeoutMessage)

	timer := time.NewTimer(c.noticeDuration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	c.ui.SetProcessing(false, ProcessingMessage)
	return ErrTimeout
}

// failed surfaces server, network and cancellation errors
func (c *Controller) failed(ctx context.Context, file *File, err error) error {
	slog.Error("Error during the extraction process", "filename", file.Name, "error", err)

	var serverErr *ServerError
	switch {
	case errors.As(err, &serverErr):
		c.ui.NotifyError(ServerErrorPrefix + serverErr.Message)
		c.ui.SetProcessing(false, ProcessingMessage)
		return err
	case ctx.Err() != nil:
		// Cancelled by the caller, nothing to tell the user
		c.ui.SetProcessing(false, ProcessingMessage)
		return fmt.Errorf("submit cancelled: %w", ctx.Err())
	default:
		c.ui.NotifyError(GenericErrorMessage)
		c.ui.SetProcessing(false, ProcessingMessage)
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return err
		}
		return &NetworkError{Err: err}
	}
}

// prettyJSON indents raw JSON with two spaces, keeping key order
func prettyJSON(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
