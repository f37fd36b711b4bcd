package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/net/html"
)

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest []struct {
		ID   string `xml:"id,attr"`
		Href string `xml:"href,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// extractEPUB returns one page per content document, in spine order when the
// package document can be read and in archive order otherwise.
func extractEPUB(data []byte) ([]Page, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	files := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		files[f.Name] = f
	}

	order := spineOrder(files)
	if len(order) == 0 {
		for _, f := range reader.File {
			if isHTMLName(f.Name) {
				order = append(order, f.Name)
			}
		}
	}

	var pages []Page
	for _, name := range order {
		f, ok := files[name]
		if !ok {
			continue
		}
		raw, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("read epub content: %w", err)
		}
		doc, err := html.Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse epub html: %w", err)
		}
		pages = append(pages, Page{Number: len(pages) + 1, Text: extractText(doc)})
	}
	return pages, nil
}

func spineOrder(files map[string]*zip.File) []string {
	container, ok := files["META-INF/container.xml"]
	if !ok {
		return nil
	}
	raw, err := readZipFile(container)
	if err != nil {
		return nil
	}
	var c epubContainer
	if err := xml.Unmarshal(raw, &c); err != nil || len(c.Rootfiles) == 0 {
		return nil
	}
	opfPath := c.Rootfiles[0].FullPath
	opf, ok := files[opfPath]
	if !ok {
		return nil
	}
	raw, err = readZipFile(opf)
	if err != nil {
		return nil
	}
	var pkg epubPackage
	if err := xml.Unmarshal(raw, &pkg); err != nil {
		return nil
	}
	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		hrefs[item.ID] = item.Href
	}
	base := path.Dir(opfPath)
	var order []string
	for _, ref := range pkg.Spine {
		href, ok := hrefs[ref.IDRef]
		if !ok || !isHTMLName(href) {
			continue
		}
		order = append(order, path.Join(base, href))
	}
	return order
}

func extractHTML(data []byte) ([]Page, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return []Page{{Number: 1, Text: extractText(doc)}}, nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "blockquote": true, "pre": true,
}

// extractText walks the DOM; block elements end in a blank line so paragraph
// boundaries survive normalisation.
func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" || node.Data == "head" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && blockElements[node.Data] {
			buf.WriteString("\n\n")
		}
	}
	walk(n)
	return buf.String()
}

func isHTMLName(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
