// Package regions maps detected PII categories to coarse redaction
// rectangles and renders them onto images.
package regions

import (
	pii "github.com/hannes/safeshare/pii/detectors"
)

// contactInfo is the shared region for email and phone.
const contactInfo = "contact_info"

// comprehensiveThreshold is the number of distinct categories at which
// the near-full-frame region is added.
const comprehensiveThreshold = 3

// Rectangles are sized to over-cover where each kind of PII usually sits
// on a photographed document.
var categoryRegions = map[string]pii.Region{
	pii.CategorySSN:        {Type: pii.CategorySSN, X: 0.15, Y: 0.25, Width: 0.7, Height: 0.2},
	pii.CategoryCreditCard: {Type: pii.CategoryCreditCard, X: 0.05, Y: 0.33, Width: 0.9, Height: 0.34},
	pii.CategoryFace:       {Type: pii.CategoryFace, X: 0.0, Y: 0.0, Width: 0.5, Height: 0.5},
	pii.CategoryAddress:    {Type: pii.CategoryAddress, X: 0.05, Y: 0.65, Width: 0.9, Height: 0.3},
	contactInfo:            {Type: contactInfo, X: 0.05, Y: 0.75, Width: 0.9, Height: 0.2},
	pii.CategoryIDCard:     {Type: pii.CategoryIDCard, X: 0.02, Y: 0.02, Width: 0.96, Height: 0.96},
}

var comprehensiveRegion = pii.Region{Type: pii.CategoryComprehensive, X: 0.02, Y: 0.02, Width: 0.96, Height: 0.96}

// GetRedactionRegions returns one region per recognized category, in
// the order the categories first appear. Email and phone share a single
// contact region. A comprehensive region is appended once when any
// category is unrecognized or at least three distinct categories are
// present. The result is never nil.
func GetRedactionRegions(types []string) []pii.Region {
	regions := make([]pii.Region, 0, len(types)+1)
	emitted := make(map[string]bool, len(types))
	distinct := make(map[string]bool, len(types))
	unknown := false

	for _, t := range types {
		category := pii.CanonicalCategory(t)
		if category == "" {
			continue
		}
		distinct[category] = true

		key := category
		if category == pii.CategoryEmail || category == pii.CategoryPhone {
			key = contactInfo
		}

		region, ok := categoryRegions[key]
		if !ok {
			unknown = true
			continue
		}
		if emitted[key] {
			continue
		}
		emitted[key] = true
		regions = append(regions, region)
	}

	if unknown || len(distinct) >= comprehensiveThreshold {
		regions = append(regions, comprehensiveRegion)
	}
	return regions
}
