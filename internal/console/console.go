// Package console renders extraction progress and results to a terminal.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/zombor/invoice-extract/internal/extraction"
)

var _ extraction.UI = (*UI)(nil)

// ImageResolver turns an image URL returned by the server into one the user can open
type ImageResolver func(imageURL string) string

// UI implements extraction.UI on top of two writers: results go to out,
// progress and notices go to status
type UI struct {
	mu       sync.Mutex
	out      io.Writer
	status   io.Writer
	resolve  ImageResolver
	filename string

	processing bool
	shown      bool
	image      string
	text       string
}

// New creates a new console UI
func New(out, status io.Writer) *UI {
	return NewWithResolver(out, status, nil)
}

// NewWithResolver creates a new console UI that resolves image URLs before printing them
func NewWithResolver(out, status io.Writer, resolve ImageResolver) *UI {
	if resolve == nil {
		resolve = func(imageURL string) string { return imageURL }
	}
	return &UI{
		out:     out,
		status:  status,
		resolve: resolve,
	}
}

// SetFile names the file the next messages are about
func (u *UI) SetFile(filename string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.filename = filename
}

// SetProcessing prints the message to status when the indicator is shown
func (u *UI) SetProcessing(visible bool, message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.processing = visible
	if visible {
		fmt.Fprintln(u.status, u.prefix()+message)
	}
}

// ShowResults prints the stored image and extracted text when visible
func (u *UI) ShowResults(visible bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.shown = visible
	if !visible {
		return
	}
	if u.filename != "" {
		fmt.Fprintf(u.out, "File: %s\n", u.filename)
	}
	fmt.Fprintf(u.out, "Image: %s\n", u.resolve(u.image))
	fmt.Fprintf(u.out, "Extracted data:\n%s\n", u.text)
}

// SetImage stores the image source for the next results
func (u *UI) SetImage(src string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.image = src
}

// SetExtractedText stores the text for the next results
func (u *UI) SetExtractedText(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.text = text
}

// NotifyError prints an error notice to status
func (u *UI) NotifyError(message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.status, "error: %s%s\n", u.prefix(), message)
}

// Processing reports whether the processing indicator is showing
func (u *UI) Processing() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.processing
}

// ResultsShown reports whether results are showing
func (u *UI) ResultsShown() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.shown
}

func (u *UI) prefix() string {
	if u.filename == "" {
		return ""
	}
	return u.filename + ": "
}
