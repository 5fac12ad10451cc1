package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format for listing availability dates.
const DateLayout = "02/01/2006"

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationData carries a listing's geographic point plus its derived geohash.
// The geohash is recomputed from the point on every create/update; it is
// never accepted from callers.
type LocationData struct {
	GeoPoint GeoPoint `json:"geoPoint"`
	Geohash  string   `json:"geohash"`
}

// Listing is a sublet rental post. Price is always stored in USD;
// display-currency conversion happens at read time only.
type Listing struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Price        int           `json:"price"`
	Description  string        `json:"description"`
	ImageURLs    []string      `json:"imageUrls"`
	OwnerID      string        `json:"ownerId"`
	LocationName string        `json:"locationName"`
	Location     *LocationData `json:"locationData,omitempty"`
	Bedrooms     int           `json:"bedrooms"`
	Bathrooms    int           `json:"bathrooms"`
	StartDate    string        `json:"startDate"` // dd/MM/yyyy
	EndDate      string        `json:"endDate"`   // dd/MM/yyyy
	Amenities    []string      `json:"amenities"`
	LastUpdated  int64         `json:"lastUpdated"` // epoch millis
}

// NewListingID returns a fresh listing id. Ids are assigned once at
// submission time and never change.
func NewListingID() string {
	return uuid.NewString()
}

// Touch stamps the listing with the current time in epoch millis.
func (l *Listing) Touch() {
	l.LastUpdated = time.Now().UnixMilli()
}

// Availability parses the listing's date range. ok is false when either
// date is missing or malformed.
func (l *Listing) Availability() (start, end time.Time, ok bool) {
	start, err := time.Parse(DateLayout, l.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.Parse(DateLayout, l.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
