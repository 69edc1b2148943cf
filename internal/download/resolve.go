package download

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type target struct {
	method string
	url    string
}

func isHTML(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html")
}

// landingTarget finds the real download behind an HTML landing page: the
// first anchor carrying a download attribute, else the first form.
func landingTarget(pageURL *url.URL, body io.Reader) (target, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return target{}, err
	}

	var found target
	doc.Find("a[download]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if href, ok := s.Attr("href"); ok && href != "" {
			found = target{method: http.MethodGet, url: href}
			return false
		}
		return true
	})

	if found.url == "" {
		doc.Find("form[action]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			action, _ := s.Attr("action")
			if action == "" {
				return true
			}
			method := strings.ToUpper(s.AttrOr("method", http.MethodGet))
			if method != http.MethodPost {
				method = http.MethodGet
			}
			found = target{method: method, url: action}
			return false
		})
	}

	if found.url == "" {
		return target{}, fmt.Errorf("no download link found on %s", pageURL)
	}

	resolved, err := pageURL.Parse(found.url)
	if err != nil {
		return target{}, fmt.Errorf("bad download link %q: %w", found.url, err)
	}
	found.url = resolved.String()
	return found, nil
}
