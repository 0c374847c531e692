// Package domain models hourly forecast data retrieved from the Open-Meteo
// forecast API and the rules for turning it into durable tabular records.
//
// # Data Source
//
// Forecasts come from https://api.open-meteo.com/v1/forecast. One request is
// issued per location with the query parameters latitude, longitude, hourly
// (a comma-joined list of variable names) and forecast_days. The response
// carries an "hourly" object holding a "time" array plus one parallel array
// per requested variable:
//
//	{"hourly": {
//	    "time":           ["2024-04-26T00:00", "2024-04-26T01:00", ...],
//	    "temperature_2m": [14.2, 13.9, ...],
//	    "wind_speed_10m": [7.1, null, ...]
//	}}
//
// # Open-Meteo Data Conventions
//
// Time format:
//
//	ISO-8601 local minutes without an offset, e.g. "2024-04-26T15:00".
//	Values are GMT unless a timezone parameter is sent, which this client never does.
//
// Missing values:
//
//	The API emits JSON null for hours a model does not cover. Nulls become NaN
//	in a [Frame] and an empty cell in the store.
//
// Row count:
//
//	forecast_days=1 yields 24 hourly rows. All arrays in one response are the
//	same length; a mismatch is treated as an API contract change
//	([ErrResponseSchema]).
//
// # Store Layout
//
// The store is a CSV file whose header is [Batch.Columns]:
//
//	time,<variable 1>,...,<variable n>,city,retrieved_at
//
// retrieved_at is a single RFC 3339 UTC timestamp shared by every row of one
// run. See [ReconcileColumns] for how headers from different runs are merged.
package domain
