// Package linkextract locates the download action inside an email body.
// Extraction is a pure function: no match means "no actionable content",
// which is not an error.
package linkextract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/kodjooo/email-payment-processor/internal/models"
)

// downloadPatterns match either the href or the anchor text of a download
// link. They mirror the phrasings the bank's notification mails use.
var downloadPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)download`),
	regexp.MustCompile(`(?i)attachment`),
	regexp.MustCompile(`(?i)скачать`),
	regexp.MustCompile(`(?i)\.zip$`),
	regexp.MustCompile(`(?i)\.rar$`),
	regexp.MustCompile(`(?i)\.7z$`),
	regexp.MustCompile(`(?i)file\.php\?`),
	regexp.MustCompile(`(?i)download\.php\?`),
	regexp.MustCompile(`(?i)attachment\.php\?`),
}

// ExtractAction parses the body as HTML and returns the first download
// action found, or nil when the body contains none.
func ExtractAction(body string) *models.DownloadAction {
	if strings.TrimSpace(body) == "" {
		return nil
	}

	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var action *models.DownloadAction
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if action != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attrValue(n, "href")
			text := strings.TrimSpace(nodeText(n))
			if href != "" && isAbsoluteURL(href) {
				switch {
				case isDownloadRef(href):
					action = &models.DownloadAction{Kind: models.ActionURL, Target: href}
					return
				case isDownloadRef(text):
					// The link itself is unremarkable; only its label marks
					// it as the download control.
					action = &models.DownloadAction{Kind: models.ActionButton, Target: href}
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return action
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func isDownloadRef(s string) bool {
	for _, re := range downloadPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func isAbsoluteURL(href string) bool {
	return strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://")
}
