package httpapi

import (
	"net/http"

	"gas_oracle/internal/apperr"
	"gas_oracle/internal/models"
	"gas_oracle/internal/utils"
)

// ReconcileResponse is returned by PUT /credit/{key}.
type ReconcileResponse struct {
	Message   string `json:"message"`
	FromBlock int64  `json:"fromBlock"`
	ToBlock   int64  `json:"toBlock"`
	Applied   int    `json:"transactions"`
	Credited  int64  `json:"credited"`
	Credit    int64  `json:"credit"`
}

func (d *Dependencies) handleCreditHistory(w http.ResponseWriter, r *http.Request) {
	rec, err := d.Keys.Lookup(r.Context(), r.PathValue("key"))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	recharges, err := d.Recharges.ListByKey(r.Context(), rec.ID)
	if err != nil {
		utils.RespondWithAppError(w, apperr.Internal("Error while trying to fetch your recharge history.", err))
		return
	}
	if recharges == nil {
		recharges = []models.CreditRecharge{}
	}
	utils.RespondWithJSON(w, http.StatusOK, recharges)
}

// handleReconcile scans the key's wallet for new deposits right away.
func (d *Dependencies) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := d.Keys.Lookup(r.Context(), r.PathValue("key"))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	res, err := d.Reconciler.ReconcileKey(r.Context(), rec.ID)
	if err != nil {
		d.Logger.Warn("On-demand reconcile failed", "key_id", rec.ID, "error", err)
		utils.RespondWithAppError(w, apperr.Internal("Error while trying to check your wallet for new deposits.", err))
		return
	}

	msg := "No new deposits were found."
	if res.Applied > 0 {
		msg = "Credit updated."
	}
	utils.RespondWithJSON(w, http.StatusOK, ReconcileResponse{
		Message:   msg,
		FromBlock: res.FromBlock,
		ToBlock:   res.ToBlock,
		Applied:   res.Applied,
		Credited:  res.Credited,
		Credit:    res.Balance,
	})
}
