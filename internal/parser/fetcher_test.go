package parser

import (
	"context"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingURL = "https://www.kabum.com.br/hardware/placas-de-video-vga"

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func TestCollyFetcher_Fetch(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", listingURL, htmlResponder(`<html><body><article>R$ 10,00</article></body></html>`))

	f := NewCollyFetcher("test-agent", 5*time.Second).WithTransport(transport)

	page, err := f.Fetch(context.Background(), listingURL)

	require.NoError(t, err)
	assert.Equal(t, listingURL, page.URL)
	assert.Contains(t, string(page.Body), "<article>R$ 10,00</article>")
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestCollyFetcher_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", 404},
		{"server error", 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", listingURL, httpmock.NewStringResponder(tt.status, ""))

			f := NewCollyFetcher("test-agent", 5*time.Second).WithTransport(transport)

			page, err := f.Fetch(context.Background(), listingURL)

			assert.Error(t, err)
			assert.Nil(t, page)
		})
	}
}

func TestCollyFetcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := httpmock.NewMockTransport()
	f := NewCollyFetcher("test-agent", time.Second).WithTransport(transport)

	_, err := f.Fetch(ctx, listingURL)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, transport.GetTotalCallCount())
}

func TestDocument_NavigateWithFetcher(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", listingURL, htmlResponder(
		`<html><body><article><a href="/produto/1">Placa</a> R$ 1.899,99</article></body></html>`))

	doc := NewDocument(NewCollyFetcher("test-agent", 5*time.Second).WithTransport(transport), nil)

	require.NoError(t, doc.Navigate(context.Background(), listingURL))
	assert.Equal(t, listingURL, doc.CurrentURL())
	assert.True(t, doc.WaitForText(context.Background(), "R$", time.Second))
}
