package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"dukapos/internal/domain"
	"dukapos/internal/logging"
)

const PDFFilename = "ProfitAndLoss.pdf"

var (
	ErrPDFTimeout         = errors.New("pdf renderer: timeout")
	ErrPDFInvalidResponse = errors.New("pdf renderer: invalid response")
)

const (
	pdfMaxRetry       = 2
	pdfRequestTimeout = 10 * time.Second
)

// PDFRenderer turns a profit and loss report into a PDF document.
type PDFRenderer interface {
	RenderProfitLoss(ctx context.Context, report domain.ProfitLossReport, currency string) ([]byte, error)
}

// GotenbergClient renders PDFs through a Gotenberg chromium endpoint.
type GotenbergClient struct {
	endpoint   string
	httpClient *http.Client
	retries    int
	timeout    time.Duration
}

func NewGotenbergClient(endpoint string) (*GotenbergClient, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("gotenberg endpoint required")
	}
	return &GotenbergClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: pdfRequestTimeout},
		retries:    pdfMaxRetry,
		timeout:    pdfRequestTimeout,
	}, nil
}

// RenderProfitLoss sends the printable HTML rendition of the report to Gotenberg.
func (c *GotenbergClient) RenderProfitLoss(ctx context.Context, report domain.ProfitLossReport, currency string) ([]byte, error) {
	html, err := RenderProfitLossHTML(report, currency)
	if err != nil {
		return nil, err
	}
	return c.RenderHTML(ctx, html)
}

func (c *GotenbergClient) RenderHTML(ctx context.Context, html []byte) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(html); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	payload := body.Bytes()
	contentType := writer.FormDataContentType()

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		data, retry, err := c.post(ctx, payload, contentType)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, fmt.Errorf("render pdf: %w", lastErr)
}

func (c *GotenbergClient) post(ctx context.Context, payload []byte, contentType string) ([]byte, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint+"/forms/chromium/convert/html", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, classifyNetError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("%w: status %d", ErrPDFInvalidResponse, resp.StatusCode)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, false, fmt.Errorf("%w: status %d", ErrPDFInvalidResponse, resp.StatusCode)
	}
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}

func classifyNetError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrPDFTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrPDFTimeout
	}
	return err
}

// Document is a rendered export ready to be sent to a client.
type Document struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Exporter produces downloadable report documents. PDFs are rendered in
// process unless another renderer is given; when that renderer fails the
// in-process renderer is used instead.
type Exporter struct {
	pdf      PDFRenderer
	fallback PDFRenderer
	currency string
	logger   *zap.Logger
}

func NewExporter(pdf PDFRenderer, currency string, logger *zap.Logger) *Exporter {
	if strings.TrimSpace(currency) == "" {
		currency = "Ksh"
	}
	e := &Exporter{pdf: pdf, currency: currency, logger: logging.OrNop(logger).Named("export")}
	if pdf == nil {
		e.pdf = NewLocalRenderer()
	} else {
		e.fallback = NewLocalRenderer()
	}
	return e
}

func (e *Exporter) CSV(report domain.ProfitLossReport) (Document, error) {
	var buf bytes.Buffer
	if err := WriteProfitLossCSV(&buf, report); err != nil {
		return Document{}, err
	}
	return Document{Data: buf.Bytes(), ContentType: "text/csv; charset=utf-8", Filename: CSVFilename}, nil
}

func (e *Exporter) PDF(ctx context.Context, report domain.ProfitLossReport) (Document, error) {
	data, err := e.pdf.RenderProfitLoss(ctx, report, e.currency)
	if err != nil && e.fallback != nil {
		e.logger.Warn("pdf renderer failed, rendering in process", zap.Error(err))
		data, err = e.fallback.RenderProfitLoss(ctx, report, e.currency)
	}
	if err != nil {
		return Document{}, err
	}
	return Document{Data: data, ContentType: "application/pdf", Filename: PDFFilename}, nil
}
