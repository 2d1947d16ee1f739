package aa

// SearchKind selects which of the two parallel pricing searches the
// itinerary endpoint performs.
type SearchKind string

const (
	SearchAward   SearchKind = "Award"
	SearchRevenue SearchKind = "Revenue"
)

// BrandMainCabin is the fare brand both sides of a valuation are read
// from: base economy ("Main Cabin") on aa.com.
const BrandMainCabin = "MAIN"

type SearchRequest struct {
	Kind        SearchKind
	Origin      string
	Destination string
	// departure date in YYYY-MM-DD
	Date       string
	Passengers int
}

type Money struct {
	Amount float64 `json:"amount"`
}

type BrandInfo struct {
	BrandCode string `json:"brandCode"`
}

type Fare struct {
	BrandInfo BrandInfo `json:"brandInfo"`
}

// RegularPrice carries per-passenger award pricing. Totals are the
// caller's business, the API always quotes award prices per passenger.
type RegularPrice struct {
	Fares                    []Fare `json:"fares"`
	PerPassengerAwardPoints  int    `json:"perPassengerAwardPoints"`
	PerPassengerTaxesAndFees Money  `json:"perPassengerTaxesAndFees"`
}

type AwardProduct struct {
	RegularPrice RegularPrice `json:"regularPrice"`
}

// SlicePricing carries cash pricing, already totalled across all
// passengers by the API.
type SlicePricing struct {
	AllPassengerDisplayTotal    Money `json:"allPassengerDisplayTotal"`
	AllPassengerDisplayTaxTotal Money `json:"allPassengerDisplayTaxTotal"`
}

type CashProduct struct {
	Fares        []Fare       `json:"fares"`
	SlicePricing SlicePricing `json:"slicePricing"`
}

type FlightInfo struct {
	CarrierCode  string `json:"carrierCode"`
	FlightNumber string `json:"flightNumber"`
}

type Leg struct {
	DepartureDateTime string `json:"departureDateTime"`
	ArrivalDateTime   string `json:"arrivalDateTime"`
}

type Segment struct {
	Flight FlightInfo `json:"flight"`
	Legs   []Leg      `json:"legs"`
}

// Flight is one itinerary as returned by the search endpoint. Hash
// identifies the physical itinerary (carrier/route/time combination)
// and is shared between the Award and Revenue result sets.
//
// ProductPricing is populated on Award results, ProductGroups on
// Revenue results; the other field is absent.
type Flight struct {
	Hash              string                   `json:"hash"`
	Stops             int                      `json:"stops"`
	DurationInMinutes int                      `json:"durationInMinutes"`
	Segments          []Segment                `json:"segments"`
	ProductPricing    []AwardProduct           `json:"productPricing,omitempty"`
	ProductGroups     map[string][]CashProduct `json:"productGroups,omitempty"`
}

type ResponseMetadata struct {
	// unix milliseconds; authoritative session expiry, only present
	// once the session has gone through a live API exchange
	SessionExpirationTime int64 `json:"sessionExpirationTime"`
}

type ItineraryResponse struct {
	ResponseMetadata ResponseMetadata `json:"responseMetadata"`
	Slices           []Flight         `json:"slices"`
}

type requestMetadata struct {
	SelectedProducts []string       `json:"selectedProducts"`
	TripType         string         `json:"tripType"`
	Udo              map[string]any `json:"udo"`
}

type requestPassenger struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type requestHeader struct {
	ClientId string `json:"clientId"`
}

type requestSlice struct {
	AllCarriers             bool   `json:"allCarriers"`
	Cabin                   string `json:"cabin"`
	DepartureDate           string `json:"departureDate"`
	Destination             string `json:"destination"`
	DestinationNearbyAirports bool `json:"destinationNearbyAirports"`
	MaxStops                *int   `json:"maxStops"`
	Origin                  string `json:"origin"`
	OriginNearbyAirports    bool   `json:"originNearbyAirports"`
}

type requestTripOptions struct {
	CorporateBooking bool       `json:"corporateBooking"`
	FareType         string     `json:"fareType"`
	Locale           string     `json:"locale"`
	PointOfSale      *string    `json:"pointOfSale"`
	SearchType       SearchKind `json:"searchType"`
}

type requestQueryParams struct {
	SliceIndex  int    `json:"sliceIndex"`
	SessionId   string `json:"sessionId"`
	SolutionSet string `json:"solutionSet"`
	SolutionId  string `json:"solutionId"`
	Sort        string `json:"sort"`
}

type itineraryRequest struct {
	Metadata      requestMetadata    `json:"metadata"`
	Passengers    []requestPassenger `json:"passengers"`
	RequestHeader requestHeader      `json:"requestHeader"`
	Slices        []requestSlice     `json:"slices"`
	TripOptions   requestTripOptions `json:"tripOptions"`
	LoyaltyInfo   *struct{}          `json:"loyaltyInfo"`
	Version       string             `json:"version"`
	QueryParams   requestQueryParams `json:"queryParams"`
}

func newItineraryRequest(req SearchRequest) itineraryRequest {
	return itineraryRequest{
		Metadata: requestMetadata{
			SelectedProducts: []string{},
			TripType:         "OneWay",
			Udo:              map[string]any{},
		},
		Passengers: []requestPassenger{
			{Type: "adult", Count: req.Passengers},
		},
		RequestHeader: requestHeader{ClientId: "AAcom"},
		Slices: []requestSlice{{
			AllCarriers:   true,
			DepartureDate: req.Date,
			Destination:   req.Destination,
			Origin:        req.Origin,
		}},
		TripOptions: requestTripOptions{
			FareType:   "Lowest",
			Locale:     "en_US",
			SearchType: req.Kind,
		},
		Version: "cfr",
		QueryParams: requestQueryParams{
			Sort: "CARRIER",
		},
	}
}
