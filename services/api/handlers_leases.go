package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (a *API) handleListLeases(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx).Order("lease_start DESC")

	query := r.URL.Query()
	if raw := query.Get("subnet_id"); raw != "" {
		subnetID, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("invalid subnet_id filter"))
			return
		}
		orm = orm.Where("subnet_id = ?", subnetID)
	}
	if raw := query.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("invalid active filter"))
			return
		}
		orm = orm.Where("active = ?", active)
	}

	var models []leaseModel
	if err := orm.Find(&models).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	leases := make([]Lease, 0, len(models))
	for _, m := range models {
		leases = append(leases, m.toAPI())
	}
	respondJSON(w, http.StatusOK, map[string]any{"leases": leases})
}

// handleReleaseLease retires a lease from the management plane, the
// equivalent of the client sending a RELEASE.
func (a *API) handleReleaseLease(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var model leaseModel
	err = orm.First(&model, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, errors.New("lease not found"))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	res := orm.Model(&leaseModel{}).
		Where("id = ? AND active", id).
		Updates(map[string]any{"active": false, "updated_at": time.Now().UTC()})
	switch {
	case res.Error != nil:
		respondError(w, http.StatusInternalServerError, res.Error)
		return
	case res.RowsAffected == 0:
		respondError(w, http.StatusNotFound, errors.New("lease is not active"))
		return
	}

	a.publishJSON(ctx, subjectLeaseReleased, map[string]any{
		"lease_id":    model.ID,
		"subnet_id":   model.SubnetID,
		"mac":         model.MACAddress,
		"address":     model.Address,
		"lease_start": model.LeaseStart,
		"lease_end":   model.LeaseEnd,
		"hostname":    model.Hostname,
	})
	respondJSON(w, http.StatusOK, map[string]any{"released": id})
}
