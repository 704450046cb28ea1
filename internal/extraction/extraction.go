package extraction

import "encoding/json"

// File is an invoice file selected for upload
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Response is the JSON body returned by the extract-invoice endpoint
type Response struct {
	ImageURL      string          `json:"image_url,omitempty"`
	ExtractedText json.RawMessage `json:"extracted_text,omitempty"`
	Error         string          `json:"error,omitempty"`

	// Detail is set by the server framework on request validation failures
	Detail json.RawMessage `json:"detail,omitempty"`
}

// UI is the page the controller renders into
type UI interface {
	// SetProcessing shows or hides the processing indicator with the given text
	SetProcessing(visible bool, message string)

	// ShowResults toggles the results container
	ShowResults(visible bool)

	// SetImage sets the displayed image source
	SetImage(src string)

	// SetExtractedText replaces the extracted text display
	SetExtractedText(text string)

	// NotifyError shows a blocking error notice to the user
	NotifyError(message string)
}
