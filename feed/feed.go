// Package feed evaluates client-side predicates over an in-memory listing
// set and groups nearby listings for map/feed display. Everything here is
// pure: inputs are never mutated.
package feed

import (
	"strings"
	"time"

	"subletsync/models"
)

// Filter is the predicate set applied to a listing snapshot. Zero-value
// fields are inactive: an empty Query matches everything, a zero date pair
// disables the overlap test.
type Filter struct {
	Query     string
	MinPrice  float64
	MaxPrice  float64 // 0 means unbounded
	Rate      float64 // display-currency rate applied before the price test
	StartDate string  // dd/MM/yyyy
	EndDate   string  // dd/MM/yyyy
}

// Apply returns the listings matching every active predicate, keeping the
// input order. Listings with malformed dates are excluded whenever a date
// filter is active, never reported as errors.
func Apply(listings []models.Listing, f Filter) []models.Listing {
	var wantStart, wantEnd time.Time
	dateFilter := f.StartDate != "" && f.EndDate != ""
	if dateFilter {
		var err error
		wantStart, err = time.Parse(models.DateLayout, f.StartDate)
		if err != nil {
			return nil
		}
		wantEnd, err = time.Parse(models.DateLayout, f.EndDate)
		if err != nil {
			return nil
		}
	}

	query := strings.ToLower(strings.TrimSpace(f.Query))
	rate := f.Rate
	if rate <= 0 {
		rate = 1
	}

	var out []models.Listing
	for _, l := range listings {
		if query != "" &&
			!strings.Contains(strings.ToLower(l.Title), query) &&
			!strings.Contains(strings.ToLower(l.LocationName), query) {
			continue
		}

		display := float64(l.Price) * rate
		if f.MinPrice > 0 && display < f.MinPrice {
			continue
		}
		if f.MaxPrice > 0 && display > f.MaxPrice {
			continue
		}

		if dateFilter {
			start, end, ok := l.Availability()
			if !ok {
				continue
			}
			if !Overlaps(start, end, wantStart, wantEnd) {
				continue
			}
		}

		out = append(out, l)
	}
	return out
}

// Overlaps reports whether the closed intervals [aStart, aEnd] and
// [bStart, bEnd] intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}

// Item is one feed entry: either a single listing or a proximity cluster.
// Exactly one of the two fields is set.
type Item struct {
	Listing *models.Listing
	Cluster *Cluster
}

// Cluster is a group of listings sharing a geohash prefix cell.
type Cluster struct {
	Label    string
	Listings []models.Listing
}

// Group partitions listings by their geohash truncated to precision
// characters. Cells with two or more members become labeled clusters;
// everything else passes through standalone. Clusters come first, then the
// standalones in their original relative order.
func Group(listings []models.Listing, precision int) []Item {
	if precision <= 0 {
		return passthrough(listings)
	}

	cells := make(map[string][]models.Listing)
	var cellOrder []string
	for _, l := range listings {
		key := cellKey(&l, precision)
		if key == "" {
			continue
		}
		if _, seen := cells[key]; !seen {
			cellOrder = append(cellOrder, key)
		}
		cells[key] = append(cells[key], l)
	}

	var items []Item
	clustered := make(map[string]bool)
	for _, key := range cellOrder {
		group := cells[key]
		if len(group) < 2 {
			continue
		}
		clustered[key] = true
		items = append(items, Item{Cluster: &Cluster{
			Label:    clusterLabel(&group[0]),
			Listings: group,
		}})
	}

	for i := range listings {
		key := cellKey(&listings[i], precision)
		if key != "" && clustered[key] {
			continue
		}
		items = append(items, Item{Listing: &listings[i]})
	}
	return items
}

func passthrough(listings []models.Listing) []Item {
	items := make([]Item, len(listings))
	for i := range listings {
		items[i] = Item{Listing: &listings[i]}
	}
	return items
}

func cellKey(l *models.Listing, precision int) string {
	if l.Location == nil || len(l.Location.Geohash) < precision {
		return ""
	}
	return l.Location.Geohash[:precision]
}

// clusterLabel derives a short place name: the location name's text before
// the first comma.
func clusterLabel(l *models.Listing) string {
	name := l.LocationName
	if idx := strings.Index(name, ","); idx >= 0 {
		name = name[:idx]
	}
	return strings.TrimSpace(name)
}
