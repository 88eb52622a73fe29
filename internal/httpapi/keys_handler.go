package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"gas_oracle/internal/apperr"
	"gas_oracle/internal/auth"
	"gas_oracle/internal/middleware"
	"gas_oracle/internal/models"
	"gas_oracle/internal/utils"
)

const (
	defaultLogsTimeframe = 60 // minutes
	maxLogsTimeframe     = 30 * 24 * 60
)

// CreatedKeyResponse is returned by POST /keys. This is the only time the key and
// secret are shown.
type CreatedKeyResponse struct {
	APIKey string `json:"apiKey"`
	Secret string `json:"secret"`
	Wallet string `json:"wallet"`
}

// KeyInfoResponse is returned by GET /keys/{key}.
type KeyInfoResponse struct {
	APIKey   string       `json:"apiKey"`
	Creation time.Time    `json:"creation"`
	Wallet   string       `json:"wallet"`
	Credit   int64        `json:"credit"`
	Origin   *string      `json:"origin,omitempty"`
	Note     *string      `json:"note,omitempty"`
	Usage    models.Usage `json:"usage"`
}

// EditedKeyResponse is returned by PUT /keys/{key} when something changed.
type EditedKeyResponse struct {
	Message string  `json:"message"`
	APIKey  string  `json:"apiKey"`
	Origin  *string `json:"origin,omitempty"`
	Note    *string `json:"note,omitempty"`
}

// LogEntry is one row of GET /logs/{key}.
type LogEntry struct {
	IP        *string   `json:"ip"`
	Origin    *string   `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// throttled reports whether ip exceeded the creation throttle of scope, writing the 429.
func (d *Dependencies) throttled(w http.ResponseWriter, r *http.Request, scope, ip string) bool {
	if d.Throttle.Allow(r.Context(), scope+":"+ip) {
		return false
	}
	utils.RespondWithAppError(w, apperr.TooManyRequests("Too many requests. Try again in a minute."))
	return true
}

func (d *Dependencies) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r)
	if d.throttled(w, r, "keys", caller.IP) {
		return
	}

	var req createKeyRequest
	if err := decodeBody(w, r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	creds, err := d.Keys.Create(r.Context(), auth.CreateRequest{Origin: req.Origin, Note: req.Note})
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	d.Logger.Info("API key created", "key_id", creds.Record.ID, "wallet", creds.Wallet, "ip", caller.IP)
	utils.RespondWithJSON(w, http.StatusOK, CreatedKeyResponse{
		APIKey: creds.APIKey,
		Secret: creds.Secret,
		Wallet: creds.Wallet,
	})
}

func (d *Dependencies) handleEditKey(w http.ResponseWriter, r *http.Request) {
	var req editKeyRequest
	if err := decodeBody(w, r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	res, err := d.Keys.Edit(r.Context(), r.PathValue("key"), req.Secret, auth.EditRequest{
		Origin:   req.Origin,
		Note:     req.Note,
		ResetKey: req.ResetKey,
	})
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	if !res.Changed {
		utils.RespondWithJSON(w, http.StatusOK, utils.MessageResponse{Message: "No information was changed."})
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, EditedKeyResponse{
		Message: "api key information updated.",
		APIKey:  res.APIKey,
		Origin:  res.Origin,
		Note:    res.Note,
	})
}

func (d *Dependencies) handleKeyInfo(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	rec, err := d.Keys.Lookup(r.Context(), key)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	usage, err := d.Meter.Usage(r.Context(), rec.ID, middleware.GetCaller(r).IP)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, KeyInfoResponse{
		APIKey:   key,
		Creation: rec.CreatedAt,
		Wallet:   rec.Wallet,
		Credit:   rec.Credit,
		Origin:   rec.Origin,
		Note:     rec.Note,
		Usage:    usage,
	})
}

// handleLogs lists the key's requests in the trailing timeframe (minutes, at most 30 days).
func (d *Dependencies) handleLogs(w http.ResponseWriter, r *http.Request) {
	minutes := defaultLogsTimeframe
	if raw := r.URL.Query().Get("timeframe"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLogsTimeframe {
			utils.RespondWithAppError(w, apperr.BadRequest("The informed timeframe is invalid."))
			return
		}
		minutes = n
	}

	rec, err := d.Keys.Lookup(r.Context(), r.PathValue("key"))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	since := d.now().Add(-time.Duration(minutes) * time.Minute)
	rows, err := d.Requests.ListByKeySince(r.Context(), rec.ID, since)
	if err != nil {
		utils.RespondWithAppError(w, apperr.Internal("Error while trying to fetch your logs.", err))
		return
	}

	out := make([]LogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, LogEntry{IP: row.IP, Origin: row.Origin, Timestamp: row.CreatedAt})
	}
	utils.RespondWithJSON(w, http.StatusOK, out)
}
