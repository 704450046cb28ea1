package extraction

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// capturedUpload holds what the fake server saw in the multipart body
type capturedUpload struct {
	filename    string
	contentType string
	data        string
	requestID   string
}

func captureUpload(into *capturedUpload) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			return
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)

		into.filename = header.Filename
		into.contentType = header.Header.Get("Content-Type")
		into.data = string(data)
		into.requestID = r.Header.Get("X-Request-ID")
	}
}

var _ = Describe("Client", func() {
	var (
		server   *ghttp.Server
		client   *Client
		captured capturedUpload
		ctx      context.Context
		cancel   context.CancelFunc
		file     *File
		resp     *Response
		err      error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var clientErr error
		client, clientErr = NewClient(server.URL())
		Expect(clientErr).NotTo(HaveOccurred())
		captured = capturedUpload{}
		ctx, cancel = context.WithTimeout(context.Background(), time.Second)
		file = &File{Name: "invoice.png", ContentType: "image/png", Data: []byte("fake png data")}
	})

	AfterEach(func() {
		cancel()
		server.Close()
	})

	Describe("Extract", func() {
		JustBeforeEach(func() {
			resp, err = client.Extract(ctx, file)
		})

		When("the server extracts the invoice", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/extract-invoice/"),
					ghttp.VerifyHeaderKV("Accept", "application/json"),
					captureUpload(&captured),
					ghttp.RespondWith(http.StatusOK, `{"image_url":"/static/invoice.png","extracted_text":{"total":"42.00"}}`),
				))
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the image url", func() {
				Expect(resp.ImageURL).To(Equal("/static/invoice.png"))
			})

			It("should keep the extracted text as sent", func() {
				Expect(string(resp.ExtractedText)).To(Equal(`{"total":"42.00"}`))
			})

			It("should send the file under the file field", func() {
				Expect(captured.filename).To(Equal("invoice.png"))
				Expect(captured.data).To(Equal("fake png data"))
			})

			It("should send the file content type", func() {
				Expect(captured.contentType).To(Equal("image/png"))
			})

			It("should tag the request with an ID", func() {
				Expect(captured.requestID).NotTo(BeEmpty())
			})

			It("should send a single request", func() {
				Expect(server.ReceivedRequests()).To(HaveLen(1))
			})
		})

		When("the file has no content type", func() {
			BeforeEach(func() {
				file.ContentType = ""
				server.AppendHandlers(ghttp.CombineHandlers(
					captureUpload(&captured),
					ghttp.RespondWith(http.StatusOK, `{"image_url":"/static/invoice.png","extracted_text":{}}`),
				))
			})

			It("should send it as octet-stream", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(captured.contentType).To(Equal("application/octet-stream"))
			})
		})

		When("the server answers with an error field", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"error":"cannot identify image file"}`))
			})

			It("returns a ServerError with the message", func() {
				var serverErr *ServerError
				Expect(errors.As(err, &serverErr)).To(BeTrue())
				Expect(serverErr.Message).To(Equal("cannot identify image file"))
				Expect(serverErr.StatusCode).To(BeZero())
			})

			It("should not return a response", func() {
				Expect(resp).To(BeNil())
			})
		})

		When("the server answers without an image url or error", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"extracted_text":{"total":"1.00"}}`))
			})

			It("returns a ServerError with the default message", func() {
				var serverErr *ServerError
				Expect(errors.As(err, &serverErr)).To(BeTrue())
				Expect(serverErr.Message).To(Equal("unknown error"))
			})
		})

		When("the server answers with a failure status", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusInternalServerError, map[string]string{
					"error": "model unavailable",
				}))
			})

			It("returns a ServerError with the status and message", func() {
				var serverErr *ServerError
				Expect(errors.As(err, &serverErr)).To(BeTrue())
				Expect(serverErr.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(serverErr.Message).To(Equal("model unavailable"))
			})
		})

		When("the server rejects the form", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusUnprocessableEntity, `{"detail":"Field required"}`))
			})

			It("uses the detail as the message", func() {
				var serverErr *ServerError
				Expect(errors.As(err, &serverErr)).To(BeTrue())
				Expect(serverErr.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(serverErr.Message).To(Equal("Field required"))
			})
		})

		When("the server rejects the form with structured detail", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","file"]}]}`))
			})

			It("uses the raw detail as the message", func() {
				var serverErr *ServerError
				Expect(errors.As(err, &serverErr)).To(BeTrue())
				Expect(serverErr.Message).To(Equal(`[{"loc":["body","file"]}]`))
			})
		})

		When("the server fails with a non JSON body", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, "<html>Bad Gateway</html>"))
			})

			It("returns a ServerError with the default message", func() {
				var serverErr *ServerError
				Expect(errors.As(err, &serverErr)).To(BeTrue())
				Expect(serverErr.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(serverErr.Message).To(Equal("unknown error"))
			})
		})

		When("a success response cannot be decoded", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "not json"))
			})

			It("returns a NetworkError", func() {
				var netErr *NetworkError
				Expect(errors.As(err, &netErr)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("decoding response"))
			})
		})

		When("the server does not answer before the deadline", func() {
			BeforeEach(func() {
				cancel()
				ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
				server.AppendHandlers(ghttp.CombineHandlers(
					func(http.ResponseWriter, *http.Request) {
						time.Sleep(200 * time.Millisecond)
					},
					ghttp.RespondWith(http.StatusOK, `{"image_url":"/static/late.png"}`),
				))
			})

			It("returns ErrTimeout", func() {
				Expect(err).To(MatchError(ErrTimeout))
			})

			It("should not return the late response", func() {
				Expect(resp).To(BeNil())
			})
		})

		When("no file is given", func() {
			BeforeEach(func() {
				file = nil
			})

			It("returns ErrNoFileSelected", func() {
				Expect(err).To(MatchError(ErrNoFileSelected))
			})

			It("should not send a request", func() {
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})
	})

	Describe("Extract against an unreachable server", func() {
		It("returns a NetworkError", func() {
			closed := ghttp.NewServer()
			url := closed.URL()
			closed.Close()

			unreachable, clientErr := NewClient(url)
			Expect(clientErr).NotTo(HaveOccurred())

			_, err := unreachable.Extract(ctx, file)
			var netErr *NetworkError
			Expect(errors.As(err, &netErr)).To(BeTrue())
		})
	})

	Describe("Extract with a base path", func() {
		It("posts below the base path", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/invoices/extract-invoice/"),
				ghttp.RespondWith(http.StatusOK, `{"image_url":"/static/a.png","extracted_text":{}}`),
			))

			prefixed, clientErr := NewClient(server.URL() + "/invoices/")
			Expect(clientErr).NotTo(HaveOccurred())

			_, err := prefixed.Extract(ctx, file)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("NewClient", func() {
		It("requires a server url", func() {
			_, err := NewClient("")
			Expect(err).To(HaveOccurred())
		})

		It("requires an absolute url", func() {
			_, err := NewClient("localhost")
			Expect(err).To(MatchError(ContainSubstring("must be absolute")))
		})
	})

	Describe("ResolveImageURL", func() {
		It("resolves server relative paths", func() {
			c, err := NewClient("http://localhost:8000")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ResolveImageURL("/static/invoice.png")).To(Equal("http://localhost:8000/static/invoice.png"))
		})

		It("leaves absolute urls alone", func() {
			c, err := NewClient("http://localhost:8000")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ResolveImageURL("https://cdn.example.com/a.png")).To(Equal("https://cdn.example.com/a.png"))
		})
	})
})

var _ = Describe("errors", func() {
	It("formats server errors with a status", func() {
		err := &ServerError{StatusCode: 500, Message: "boom"}
		Expect(err.Error()).To(Equal("server error (status 500): boom"))
	})

	It("formats server errors without a status", func() {
		err := &ServerError{Message: "boom"}
		Expect(err.Error()).To(Equal("server error: boom"))
	})

	It("unwraps network errors", func() {
		cause := errors.New("connection reset")
		err := &NetworkError{Err: cause}
		Expect(errors.Is(err, cause)).To(BeTrue())
	})
})
