package geo

import "math"

const earthRadiusMeters = 6371000

// Bounds is a rectangular lat/lng region, typically a map viewport.
type Bounds struct {
	SWLat float64
	SWLng float64
	NELat float64
	NELng float64
}

// Contains reports whether the point lies inside the rectangle, edges
// inclusive. Viewports spanning the antimeridian wrap on longitude.
func (b Bounds) Contains(lat, lng float64) bool {
	if lat < b.SWLat || lat > b.NELat {
		return false
	}
	if b.SWLng <= b.NELng {
		return lng >= b.SWLng && lng <= b.NELng
	}
	return lng >= b.SWLng || lng <= b.NELng
}

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() (lat, lng float64) {
	lat = (b.SWLat + b.NELat) / 2
	if b.SWLng <= b.NELng {
		lng = (b.SWLng + b.NELng) / 2
	} else {
		lng = math.Mod((b.SWLng+b.NELng+360)/2+180, 360) - 180
	}
	return lat, lng
}

// Circumscribe returns the center of the rectangle and the radius of a
// circle containing it: half the great-circle distance between opposite
// corners.
func (b Bounds) Circumscribe() (lat, lng, radiusMeters float64) {
	lat, lng = b.Center()
	radiusMeters = Distance(b.SWLat, b.SWLng, b.NELat, b.NELng) / 2
	return lat, lng, radiusMeters
}

// Distance is the haversine great-circle distance in meters.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := (lat2 - lat1) * math.Pi / 180
	dl := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dp/2)*math.Sin(dp/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
