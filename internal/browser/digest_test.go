// File: internal/browser/digest_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestHTML(t *testing.T) {
	doc := `<html>
<head><title>MGrant - Grants</title></head>
<body>
  <h1>Grant Programmes</h1>
  <div class="card"><h2>Open Calls</h2></div>
  <div role="alert"><span>Your session is about to expire</span></div>
  <div class="MuiAlert-message">Failed to load applications</div>
  <h3>   Archived
     Calls </h3>
</body>
</html>`

	digest := DigestHTML(doc)
	assert.Equal(t, "MGrant - Grants", digest.Title)
	assert.Equal(t, []string{"Grant Programmes", "Open Calls", "Archived Calls"}, digest.Headings)
	assert.Equal(t, []string{
		"Your session is about to expire",
		"Failed to load applications",
	}, digest.Alerts)
}

func TestDigestHTMLEmptyDocument(t *testing.T) {
	digest := DigestHTML("")
	assert.Empty(t, digest.Title)
	assert.Empty(t, digest.Headings)
	assert.Empty(t, digest.Alerts)
}

func TestDigestHTMLNoDuplicateAlertText(t *testing.T) {
	doc := `<div role="alert"><div class="MuiAlert-message">Only once</div></div>`
	digest := DigestHTML(doc)
	assert.Equal(t, []string{"Only once"}, digest.Alerts)
}
