package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pricewatch/pricewatch/catalog"
)

// parsed contents of one fetched page
type page struct {
	listing bool
	hasNext bool
	product *catalog.Product
	variant *catalog.Variant
	links   []string
}

const (
	listingMarker = `#productListWrapper, [data-testid="product-list"]`
	listingLinks  = `#productListWrapper a[href], [data-testid="product-list"] a[href]`
	variantLinks  = `[data-testid="variant-picker"] a[href], .variant-list a[href]`
)

// parsePage classifies a page as a category listing or a product detail
// page and pulls out its identity, attributes and outgoing links.
func parsePage(body []byte, pageURL string) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page:%w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url:%w", err)
	}

	if doc.Find(listingMarker).Length() > 0 {
		p := &page{listing: true}
		doc.Find(listingLinks).Each(func(i int, s *goquery.Selection) {
			if href := resolve(base, s.AttrOr("href", "")); href != "" {
				p.links = append(p.links, href)
			}
		})
		if next, ok := doc.Find(`a[rel="next"]`).First().Attr("href"); ok {
			if href := resolve(base, next); href != "" {
				p.links = append(p.links, href)
				p.hasNext = true
			}
		}
		return p, nil
	}

	variantID := canonicalID(doc, base)
	if variantID == "" {
		return nil, fmt.Errorf("no canonical variant id on %s", pageURL)
	}

	productID := doc.Find(`[data-product-id]`).First().AttrOr("data-product-id", "")
	if productID == "" {
		// single-variant products reuse the variant id
		productID = variantID
	}

	p := &page{
		product: &catalog.Product{
			ID:           productID,
			CanonicalURL: pageURL,
			Name:         strings.TrimSpace(doc.Find(`[data-testid="pd-name"], h1`).First().Text()),
			Brand:        strings.TrimSpace(doc.Find(`[data-testid="pd-brand"], .product-brand`).First().Text()),
			Category:     category(doc),
		},
		variant: &catalog.Variant{
			ID:           variantID,
			ProductID:    productID,
			Attrs:        variantAttrs(doc),
			CanonicalURL: pageURL,
		},
	}

	doc.Find(variantLinks).Each(func(i int, s *goquery.Selection) {
		if href := resolve(base, s.AttrOr("href", "")); href != "" {
			p.links = append(p.links, href)
		}
	})

	return p, nil
}

// canonicalID prefers the explicit variant id in the markup, then the sku
// meta tag, then the canonical link's trailing slug, so URL aliases of one
// variant dedupe to a single key. A page carrying none of those has no
// determinable identity and is reported as a discovery error.
func canonicalID(doc *goquery.Document, base *url.URL) string {
	if id := doc.Find(`[data-variant-id]`).First().AttrOr("data-variant-id", ""); id != "" {
		return id
	}
	if sku := doc.Find(`meta[itemprop="sku"]`).First().AttrOr("content", ""); sku != "" {
		return sku
	}

	canonical, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok {
		return ""
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}

	segments := strings.Split(strings.Trim(base.ResolveReference(u).Path, "/"), "/")

	return segments[len(segments)-1]
}

func variantAttrs(doc *goquery.Document) map[string]string {
	attrs := map[string]string{}

	doc.Find(`[data-testid="variant-picker"] [data-attr-name]`).Each(func(i int, s *goquery.Selection) {
		name := s.AttrOr("data-attr-name", "")
		value := s.AttrOr("data-attr-value", strings.TrimSpace(s.Text()))
		if name != "" && value != "" {
			attrs[name] = value
		}
	})

	if len(attrs) == 0 {
		if label := strings.TrimSpace(doc.Find(`[data-testid="variant-picker"] .selected, .variant-list .selected`).First().Text()); label != "" {
			attrs["label"] = label
		}
	}

	return attrs
}

func category(doc *goquery.Document) string {
	crumbs := doc.Find(`.breadcrumb a, nav[aria-label="breadcrumb"] a`)
	if crumbs.Length() == 0 {
		return ""
	}

	return strings.TrimSpace(crumbs.Eq(crumbs.Length() - 1).Text())
}

// nextListingURL synthesizes the next listing page for markup that carries
// no rel=next link. The "f" query parameter leads with the page number
// ("2-1-2"); incrementing it walks forward until the store answers with a
// not-found or an empty product container.
func nextListingURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	q := u.Query()
	page, suffix := 1, ""
	if f := q.Get("f"); f != "" {
		head, rest, found := strings.Cut(f, "-")
		n, err := strconv.Atoi(head)
		if err != nil {
			return ""
		}
		page = n
		if found {
			suffix = "-" + rest
		}
	}

	q.Set("f", fmt.Sprintf("%d%s", page+1, suffix))
	u.RawQuery = q.Encode()

	return u.String()
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""

	return resolved.String()
}
