package httpapi

import (
	"context"
	"net/http"
	"time"

	"gas_oracle/internal/middleware"
	"gas_oracle/internal/utils"
)

// handleCreateSession trades a solved captcha for a session token.
func (d *Dependencies) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r)
	if d.throttled(w, r, "session", caller.IP) {
		return
	}

	var req createSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	if err := d.Captcha.Verify(r.Context(), req.Token, caller.IP); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	issued, err := d.Sessions.Issue(r.Context())
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, issued)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	for _, hc := range d.Health {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(d.Health))
		}
		if err := hc.Check(ctx); err != nil {
			resp.Checks[hc.Name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[hc.Name] = "ok"
	}
	utils.RespondWithJSON(w, status, resp)
}
