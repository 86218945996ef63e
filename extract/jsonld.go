package extract

import (
	"encoding/json"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/pricewatch/pricewatch/catalog"
)

// ld mirrors the subset of schema.org Product/Offer the fallback needs.
type ld struct {
	Type   string          `json:"@type"`
	Offers json.RawMessage `json:"offers"`
}

type ldOffer struct {
	Type      string      `json:"@type"`
	Price     interface{} `json:"price"`
	LowPrice  interface{} `json:"lowPrice"`
	HighPrice interface{} `json:"highPrice"`
}

// hasProductLD classifies the json-ld layout. A structured-data block alone
// is not enough (breadcrumbs and organization entities appear on every
// page, maintenance pages included); only a Product entity carrying offers
// makes this a price page.
func hasProductLD(doc *goquery.Document) bool {
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		var entity ld
		if err := json.Unmarshal([]byte(s.Text()), &entity); err != nil {
			return true
		}
		if entity.Type == "Product" && len(entity.Offers) > 0 {
			found = true
			return false
		}
		return true
	})

	return found
}

// parseJSONLD reads prices out of embedded schema.org metadata. This layout
// fires for pages whose visible price markup is unrecognized yet still ship
// machine-readable offers. The omnibus value is never present here: the
// mandated 30-day minimum only exists in the visible markup, so the field
// stays null and the record is persisted partial.
func parseJSONLD(doc *goquery.Document) fields {
	var f fields

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		var entity ld
		if err := json.Unmarshal([]byte(s.Text()), &entity); err != nil {
			return true
		}
		if entity.Type != "Product" || len(entity.Offers) == 0 {
			return true
		}

		var offer ldOffer
		if err := json.Unmarshal(entity.Offers, &offer); err != nil {
			// offers may also be a list; take the first entry
			var list []ldOffer
			if err := json.Unmarshal(entity.Offers, &list); err != nil || len(list) == 0 {
				return true
			}
			offer = list[0]
		}

		f.current = ldPrice(offer.Price)
		if f.current == nil {
			f.current = ldPrice(offer.LowPrice)
		}
		f.list = ldPrice(offer.HighPrice)

		if f.list != nil && f.current != nil && *f.list != *f.current {
			f.promo = true
		}

		return f.current == nil
	})

	return f
}

func ldPrice(v interface{}) *catalog.Money {
	if v == nil {
		return nil
	}

	m, err := catalog.ParseMoney(fmt.Sprint(v))
	if err != nil {
		return nil
	}

	return &m
}
