package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pricewatch/pricewatch/catalog"
	"go.uber.org/zap"
)

// ErrLayoutUnknown means no known page template matched. The page is a
// page-level failure; the crawl goes on without it.
var ErrLayoutUnknown = errors.New("no known page layout matched")

// one known structural template and its field strategy
type layout struct {
	name  string
	match func(doc *goquery.Document) bool
	parse func(doc *goquery.Document) fields
}

type fields struct {
	current *catalog.Money
	list    *catalog.Money
	omnibus *catalog.Money
	promo   bool
	voucher bool
}

// Extractor turns fetched markup into price observations. Classification
// runs first: the first layout whose marker element is present wins, then
// every field is pulled independently so a single missing field degrades
// to a null instead of failing the record.
type Extractor struct {
	layouts []layout
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Extractor{
		logger: logger,
		layouts: []layout{
			{name: "product-detail", match: selectorMatch(`[data-testid="pd-price"], #pd-price, .product-detail__price`), parse: parseProductDetail},
			{name: "json-ld", match: hasProductLD, parse: parseJSONLD},
		},
	}
}

func selectorMatch(selector string) func(doc *goquery.Document) bool {
	return func(doc *goquery.Document) bool {
		return doc.Find(selector).Length() > 0
	}
}

func (e *Extractor) Extract(markup []byte, variant *catalog.Variant, sessionID string) (*catalog.Observation, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup:%w", err)
	}

	for _, l := range e.layouts {
		if !l.match(doc) {
			continue
		}

		f := l.parse(doc)
		e.logger.Debug("layout matched",
			zap.String("layout", l.name),
			zap.String("variant", variant.ID))

		obs := catalog.NewObservation(
			variant.ID, sessionID,
			f.current, f.list, f.omnibus,
			f.promo, f.voucher,
		)

		return obs, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrLayoutUnknown, variant.CanonicalURL)
}

var (
	omnibusRe = regexp.MustCompile(`(?i)najni[żz]sza cena[^0-9]*30\s*dni[^0-9]*([0-9][0-9 .,\x{00A0}]*(?:z[łl])?)`)
	voucherRe = regexp.MustCompile(`(?i)z kodem|kod rabatowy|kodem rabatowym|po wpisaniu kodu`)
)

func parseProductDetail(doc *goquery.Document) fields {
	var f fields

	f.current = priceOf(doc, `[data-testid="pd-price"], #pd-price, .product-detail__price`)
	f.list = priceOf(doc, `[data-testid="pd-list-price"], .product-detail__price--crossed, del, s`)
	f.omnibus = priceOf(doc, `[data-testid="lowest-price"], .price-omnibus`)

	if f.omnibus == nil {
		// older markup carries the mandated value only as marker text
		if m := omnibusRe.FindStringSubmatch(doc.Text()); m != nil {
			if v, err := catalog.ParseMoney(m[1]); err == nil {
				f.omnibus = &v
			}
		}
	}

	// a distinct strikethrough price or an explicit badge marks a promotion
	if f.list != nil && f.current != nil && *f.list != *f.current {
		f.promo = true
	}
	if badge := doc.Find(`[data-testid="discount-badge"], .pd-badge--discount`); badge.Length() > 0 {
		f.promo = true
	}

	if voucherRe.MatchString(doc.Text()) || doc.Find(`[data-testid="voucher-code"]`).Length() > 0 {
		f.voucher = true
	}

	return f
}

// priceOf extracts a fixed-point price from the first element matching the
// selector, nil when absent or unparsable.
func priceOf(doc *goquery.Document, selector string) *catalog.Money {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}

	text := strings.TrimSpace(sel.Text())
	if text == "" {
		return nil
	}

	v, err := catalog.ParseMoney(text)
	if err != nil {
		return nil
	}

	return &v
}
