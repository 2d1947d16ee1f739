package scraper

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"pointval-backend/lib/scrapers/aa"
)

// correlateFlights joins the award and cash result sets on itinerary
// hash and prices every itinerary present in both. Flights missing a
// main-cabin product on either side are dropped. Per-passenger award
// figures are scaled to trip totals so both sides compare like for
// like.
func correlateFlights(award, cash []aa.Flight, passengers int) []NormalizedFlight {
	awardByHash := make(map[string]aa.Flight, len(award))
	for _, f := range award {
		awardByHash[f.Hash] = f
	}
	cashByHash := make(map[string]aa.Flight, len(cash))
	for _, f := range cash {
		cashByHash[f.Hash] = f
	}

	flights := make([]NormalizedFlight, 0, len(awardByHash))
	skipped := 0
	for hash, awardFlight := range awardByHash {
		cashFlight, ok := cashByHash[hash]
		if !ok {
			continue
		}

		points, awardTaxes, ok := mainCabinAward(awardFlight)
		if !ok {
			skipped++
			continue
		}
		cashTotal, cashTaxes, ok := mainCabinCash(cashFlight)
		if !ok {
			skipped++
			continue
		}

		totalPoints := points * passengers
		// the award side quotes taxes per passenger and reflects what a
		// point redeemer actually pays, so it wins over the cash-side
		// figure whenever it is present
		totalTaxes := awardTaxes * float64(passengers)
		if awardTaxes == 0 {
			totalTaxes = cashTaxes
		}

		segments, nonstop, duration := flightDetails(awardFlight)
		flights = append(flights, NormalizedFlight{
			IsNonstop:      nonstop,
			Segments:       segments,
			TotalDuration:  duration,
			PointsRequired: totalPoints,
			CashPriceUsd:   cashTotal,
			TaxesFeesUsd:   totalTaxes,
			Cpp:            calculateCpp(cashTotal, totalTaxes, totalPoints),
		})
	}
	if skipped > 0 {
		slog.Warn("dropped matched flights without main cabin pricing", "count", skipped)
	}

	sort.Slice(flights, func(i, j int) bool {
		a, b := flights[i], flights[j]
		if len(a.Segments) == 0 || len(b.Segments) == 0 {
			return len(a.Segments) > len(b.Segments)
		}
		if a.Segments[0].DepartureTime != b.Segments[0].DepartureTime {
			return a.Segments[0].DepartureTime < b.Segments[0].DepartureTime
		}
		return a.Segments[0].FlightNumber < b.Segments[0].FlightNumber
	})
	return flights
}

// mainCabinAward extracts the per-passenger points price and taxes of
// the first main-cabin award product on the flight.
func mainCabinAward(f aa.Flight) (points int, taxes float64, ok bool) {
	for _, product := range f.ProductPricing {
		fares := product.RegularPrice.Fares
		if len(fares) == 0 || fares[0].BrandInfo.BrandCode != aa.BrandMainCabin {
			continue
		}
		return product.RegularPrice.PerPassengerAwardPoints,
			product.RegularPrice.PerPassengerTaxesAndFees.Amount, true
	}
	return 0, 0, false
}

// mainCabinCash extracts the all-passenger display total and tax total
// of the first main-cabin cash product on the flight.
func mainCabinCash(f aa.Flight) (total, taxes float64, ok bool) {
	for _, product := range f.ProductGroups[aa.BrandMainCabin] {
		if len(product.Fares) == 0 || product.Fares[0].BrandInfo.BrandCode != aa.BrandMainCabin {
			continue
		}
		return product.SlicePricing.AllPassengerDisplayTotal.Amount,
			product.SlicePricing.AllPassengerDisplayTaxTotal.Amount, true
	}
	return 0, 0, false
}

func flightDetails(f aa.Flight) (segments []FlightSegment, nonstop bool, duration string) {
	for _, seg := range f.Segments {
		fs := FlightSegment{
			FlightNumber: seg.Flight.CarrierCode + seg.Flight.FlightNumber,
		}
		if len(seg.Legs) > 0 {
			fs.DepartureTime = clockTime(seg.Legs[0].DepartureDateTime)
			fs.ArrivalTime = clockTime(seg.Legs[len(seg.Legs)-1].ArrivalDateTime)
		}
		segments = append(segments, fs)
	}
	hours := f.DurationInMinutes / 60
	minutes := f.DurationInMinutes % 60
	return segments, f.Stops == 0, fmt.Sprintf("%dh %dm", hours, minutes)
}

// clockTime reduces an ISO timestamp to local wall-clock HH:MM. The
// raw value is returned unchanged when it does not parse.
func clockTime(iso string) string {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return iso
	}
	return t.Format("15:04")
}

// calculateCpp is the cents-per-point valuation of booking with points
// instead of cash, rounded to two decimals. Taxes are subtracted from
// the cash price because the award booking still pays them.
func calculateCpp(cashTotal, taxes float64, points int) float64 {
	if points == 0 {
		return 0
	}
	cpp := (cashTotal - taxes) / float64(points) * 100
	return math.Round(cpp*100) / 100
}
