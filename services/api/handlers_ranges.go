package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (a *API) handleListRanges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx).Order("created_at ASC")
	if raw := r.URL.Query().Get("subnet_id"); raw != "" {
		subnetID, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("invalid subnet_id filter"))
			return
		}
		orm = orm.Where("subnet_id = ?", subnetID)
	}

	var models []rangeModel
	if err := orm.Find(&models).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	ranges := make([]DynamicRange, 0, len(models))
	for _, m := range models {
		ranges = append(ranges, m.toAPI())
	}
	respondJSON(w, http.StatusOK, map[string]any{"ranges": ranges})
}

func (a *API) handleCreateRange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubnetID     string `json:"subnet_id"`
		StartAddress string `json:"start_address"`
		EndAddress   string `json:"end_address"`
		Enabled      *bool  `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	subnetID, err := uuid.Parse(strings.TrimSpace(req.SubnetID))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("subnet_id is required"))
		return
	}
	start, err := parseIPv4("start_address", strings.TrimSpace(req.StartAddress))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	end, err := parseIPv4("end_address", strings.TrimSpace(req.EndAddress))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if ipToUint32(start) > ipToUint32(end) {
		respondError(w, http.StatusBadRequest, errors.New("start_address is above end_address"))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var subnet subnetModel
	err = orm.First(&subnet, "id = ?", subnetID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusBadRequest, errors.New("subnet not found"))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	network, err := parseIPv4("network", subnet.Network)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !inSubnet(network, int(subnet.PrefixLen), start) || !inSubnet(network, int(subnet.PrefixLen), end) {
		respondError(w, http.StatusBadRequest, errors.New("range is outside the subnet"))
		return
	}

	model := rangeModel{
		ID:           uuid.New(),
		SubnetID:     subnetID,
		StartAddress: start.String(),
		EndAddress:   end.String(),
		Enabled:      enabled,
	}
	if err := orm.Create(&model).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	rng := model.toAPI()
	a.publishJSON(ctx, subjectConfigUpdated, map[string]any{
		"kind":      "range",
		"action":    "created",
		"range_id":  rng.ID,
		"subnet_id": rng.SubnetID,
	})
	respondJSON(w, http.StatusOK, map[string]any{"range": rng})
}

func (a *API) handleDeleteRange(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res := a.store.ORM.WithContext(ctx).Delete(&rangeModel{}, "id = ?", id)
	switch {
	case res.Error != nil:
		respondError(w, http.StatusInternalServerError, res.Error)
	case res.RowsAffected == 0:
		respondError(w, http.StatusNotFound, errors.New("range not found"))
	default:
		a.publishJSON(ctx, subjectConfigUpdated, map[string]any{
			"kind":     "range",
			"action":   "deleted",
			"range_id": id,
		})
		respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
	}
}
