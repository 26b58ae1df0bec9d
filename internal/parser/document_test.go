package parser

import (
	"context"
	"testing"
	"time"

	"github.com/maltedev/price-scraper/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html>
<head><style>.x { content: "R$ 0,00" }</style></head>
<body>
  <script>window.price = "R$ 9,99"</script>
  <article id="a1">
    <a href="/produto/1"><img title="Placa de Vídeo RTX 4060" alt="rtx"></a>
    <span class="nameCard">Placa de Vídeo RTX 4060</span>
    <span>R$&nbsp;1.899,99</span>
  </article>
  <div class="productCard">
    <h2>  Placa de Vídeo RX 7600  </h2>
    <b>R$ 1.499,00</b>
  </div>
  <div class="emptyCard">Sem estoque</div>
</body>
</html>`

func TestDocument_FindAll(t *testing.T) {
	doc, err := FromHTML(listingURL, listingHTML)
	require.NoError(t, err)

	tests := []struct {
		name     string
		query    extract.Query
		expected int
	}{
		{"by tag", extract.Query{CSS: "article"}, 1},
		{"by class substring", extract.Query{CSS: "div[class*='Card']"}, 2},
		{"filtered by text", extract.Query{CSS: "div[class*='Card']", HasText: "R$"}, 1},
		{"no match", extract.Query{CSS: "section"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := doc.FindAll(tt.query)
			require.NoError(t, err)
			assert.Len(t, found, tt.expected)
		})
	}
}

func TestDocument_ElementAccess(t *testing.T) {
	doc, err := FromHTML(listingURL, listingHTML)
	require.NoError(t, err)

	cards, err := doc.FindAll(extract.Query{CSS: "article"})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	card := cards[0]

	img, err := card.Find(extract.Query{CSS: "img"})
	require.NoError(t, err)

	title, ok, err := img.Attribute("title")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Placa de Vídeo RTX 4060", title)

	_, ok, err = img.Attribute("data-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = card.Find(extract.Query{CSS: "h3"})
	assert.ErrorIs(t, err, extract.ErrNoElement)

	text, err := card.Text()
	require.NoError(t, err)
	assert.Equal(t, "Placa de Vídeo RTX 4060 R$ 1.899,99", text)
}

func TestDocument_WaitForText(t *testing.T) {
	t.Run("marker in rendered text", func(t *testing.T) {
		doc, err := FromHTML(listingURL, listingHTML)
		require.NoError(t, err)
		assert.True(t, doc.WaitForText(context.Background(), "R$", time.Second))
	})

	t.Run("marker only inside scripts", func(t *testing.T) {
		doc, err := FromHTML(listingURL, `<html><body><script>var p = "R$ 1,00"</script><p>Carregando</p></body></html>`)
		require.NoError(t, err)
		assert.False(t, doc.WaitForText(context.Background(), "R$", time.Second))
	})

	t.Run("nothing loaded", func(t *testing.T) {
		doc := NewDocument(nil, nil)
		assert.False(t, doc.WaitForText(context.Background(), "R$", time.Second))
	})
}

func TestDocument_NavigateWithoutFetcher(t *testing.T) {
	doc := NewDocument(nil, nil)

	err := doc.Navigate(context.Background(), listingURL)

	assert.ErrorIs(t, err, ErrNoFetcher)
}

func TestDocument_Close(t *testing.T) {
	doc, err := FromHTML(listingURL, listingHTML)
	require.NoError(t, err)

	require.NoError(t, doc.Close())

	assert.False(t, doc.WaitForText(context.Background(), "R$", time.Second))
	_, err = doc.FindAll(extract.Query{CSS: "article"})
	assert.Error(t, err)
}

func TestSnapshotFetcher(t *testing.T) {
	doc := NewDocument(SnapshotFetcher([]byte(listingHTML)), nil)

	require.NoError(t, doc.Navigate(context.Background(), listingURL))

	assert.Equal(t, listingURL, doc.CurrentURL())
	assert.True(t, doc.WaitForText(context.Background(), "R$", time.Second))
}
