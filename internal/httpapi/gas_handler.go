package httpapi

import (
	"context"
	"net/http"
	"time"

	"gas_oracle/internal/billing"
	"gas_oracle/internal/history"
	"gas_oracle/internal/middleware"
	"gas_oracle/internal/models"
	"gas_oracle/internal/utils"
)

// GasResponse is the body of GET /gas. Prices are in gwei.
type GasResponse struct {
	Timestamp string  `json:"timestamp"`
	Slow      float64 `json:"slow"`
	Standard  float64 `json:"standard"`
	Fast      float64 `json:"fast"`
	Instant   float64 `json:"instant"`
	BlockTime float64 `json:"block_time"`
	LastBlock uint64  `json:"last_block"`
}

// handleGas serves the current prices, metered by the authorizer.
func (d *Dependencies) handleGas(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r)

	payload, err := d.Meter.Authorize(r.Context(), billing.Request{
		Key:      caller.APIKey,
		IP:       caller.IP,
		Origin:   caller.Origin,
		Session:  caller.Session,
		Endpoint: models.EndpointGas,
	}, func(ctx context.Context) (interface{}, error) {
		reading, err := d.Oracle.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		return GasResponse{
			Timestamp: d.now().UTC().Format(time.RFC3339Nano),
			Slow:      reading.SafeLow,
			Standard:  reading.Standard,
			Fast:      reading.Fast,
			Instant:   reading.Fastest,
			BlockTime: reading.BlockTime,
			LastBlock: reading.BlockNum,
		}, nil
	})
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, payload)
}

// handleHistory serves price candles. It is not metered.
func (d *Dependencies) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := history.ParseQuery(r.URL.Query(), d.now())

	candles, err := history.Candles(r.Context(), d.History, q)
	if err != nil {
		d.Logger.Error("Failed to load candles", "error", err)
		utils.RespondWithAppError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, candles)
}
