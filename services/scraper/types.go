package scraper

type ScrapeRequest struct {
	// 3-letter IATA codes
	Origin      string
	Destination string
	// departure date in YYYY-MM-DD
	Date       string
	Passengers int
	CabinClass string
}

type FlightSegment struct {
	FlightNumber  string `json:"flight_number"`
	DepartureTime string `json:"departure_time"`
	ArrivalTime   string `json:"arrival_time"`
}

// NormalizedFlight is one itinerary priced on both sides of the
// award/cash comparison. Money amounts and points are totals across
// all passengers.
type NormalizedFlight struct {
	IsNonstop      bool            `json:"is_nonstop"`
	Segments       []FlightSegment `json:"segments"`
	TotalDuration  string          `json:"total_duration"`
	PointsRequired int             `json:"points_required"`
	CashPriceUsd   float64         `json:"cash_price_usd"`
	TaxesFeesUsd   float64         `json:"taxes_fees_usd"`
	Cpp            float64         `json:"cpp"`
}

type SearchMetadata struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Date        string `json:"date"`
	Passengers  int    `json:"passengers"`
	CabinClass  string `json:"cabin_class"`
}

type ScrapeResult struct {
	SearchMetadata SearchMetadata     `json:"search_metadata"`
	Flights        []NormalizedFlight `json:"flights"`
	TotalResults   int                `json:"total_results"`
}
