package notify

import (
	"context"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/carlmjohnson/requests"
	"golang.org/x/net/html"
)

const previewTimeout = 10 * time.Second

func (d *Dispatcher) fetchPreviewImage(ctx context.Context, endpoint string) string {
	ctx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	var page string
	err := requests.URL(endpoint).
		Transport(d.transport).
		ToString(&page).
		Fetch(ctx)
	if err != nil {
		d.log.Sugar().Debugw("Preview fetch failed", "url", endpoint, "err", err)
		return ""
	}

	doc, err := htmlquery.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}
	return ExtractImageURL(doc)
}

// ExtractImageURL pulls the page's social preview image, preferring the
// opengraph tag over the twitter one.
func ExtractImageURL(n *html.Node) string {
	if url := metaContent(n, "//meta[@property = 'og:image']"); url != "" {
		return url
	}
	return metaContent(n, "//meta[@name = 'twitter:image']")
}

func metaContent(n *html.Node, xpath string) string {
	elem := htmlquery.FindOne(n, xpath)
	if elem == nil {
		return ""
	}
	for _, attr := range elem.Attr {
		if attr.Key == "content" {
			return attr.Val
		}
	}
	return ""
}
