package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHTML = `<!DOCTYPE html>
<html>
<head><title>Invoice</title><style>body { color: red; }</style></head>
<body>
<script>console.log("skip me");</script>
<h1>Invoice INV-001</h1>
<p>Customer: Acme Corp</p>
<table>
<tr><th>Item</th><th>Qty</th></tr>
<tr><td>Widget</td><td>2</td></tr>
<tr><td>Gadget</td><td>1</td></tr>
</table>
</body>
</html>`

func TestExtractHTML(t *testing.T) {
	path := writeTemp(t, "invoice.html", []byte(sampleHTML))

	doc, err := ExtractHTML(path)
	require.NoError(t, err)

	assert.Contains(t, doc.Text, "Invoice INV-001")
	assert.Contains(t, doc.Text, "Customer: Acme Corp")
	assert.NotContains(t, doc.Text, "skip me")
	assert.NotContains(t, doc.Text, "color: red")

	require.Len(t, doc.Tables, 1)
	table := doc.Tables[0]
	assert.Equal(t, "table_1", table.ID)
	assert.Equal(t, []string{"Item", "Qty"}, table.Headers)
	assert.Equal(t, [][]string{{"Widget", "2"}, {"Gadget", "1"}}, table.Rows)
	assert.InDelta(t, structuredTableConfidence, table.Confidence, 1e-9)
}

func TestExtractHTMLNoHeaderRow(t *testing.T) {
	html := `<html><body><table>
<tr><td>a</td><td>b</td></tr>
<tr><td>c</td><td>d</td></tr>
</table></body></html>`
	path := writeTemp(t, "t.html", []byte(html))

	doc, err := ExtractHTML(path)
	require.NoError(t, err)

	require.Len(t, doc.Tables, 1)
	assert.Nil(t, doc.Tables[0].Headers)
	assert.Len(t, doc.Tables[0].Rows, 2)
}

func TestExtractHTMLNoTables(t *testing.T) {
	path := writeTemp(t, "p.html", []byte("<html><body><p>hello</p></body></html>"))

	doc, err := ExtractHTML(path)
	require.NoError(t, err)

	assert.Equal(t, "hello", doc.Text)
	assert.Empty(t, doc.Tables)
}

func TestExtractHTMLMissingFile(t *testing.T) {
	_, err := ExtractHTML("/nonexistent/x.html")
	assert.Error(t, err)
}
