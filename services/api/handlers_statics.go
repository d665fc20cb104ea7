package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rangerd/pkg/dhcpwire"
)

func (a *API) handleListStaticIPs(w http.ResponseWriter, r *http.Request) {
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

	var models []staticIPModel
	if err := orm.Find(&models).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	statics := make([]StaticIP, 0, len(models))
	for _, m := range models {
		statics = append(statics, m.toAPI())
	}
	respondJSON(w, http.StatusOK, map[string]any{"static_ips": statics})
}

func (a *API) handleCreateStaticIP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubnetID string `json:"subnet_id"`
		MAC      string `json:"mac"`
		Address  string `json:"address"`
		Hostname string `json:"hostname"`
		Enabled  *bool  `json:"enabled"`
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
	mac, err := dhcpwire.ParseMacAddress(strings.TrimSpace(req.MAC))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseIPv4("address", strings.TrimSpace(req.Address))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
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
	if !inSubnet(network, int(subnet.PrefixLen), addr) {
		respondError(w, http.StatusBadRequest, errors.New("address is outside the subnet"))
		return
	}

	model := staticIPModel{
		ID:         uuid.New(),
		SubnetID:   subnetID,
		MACAddress: mac.String(),
		Address:    addr.String(),
		Hostname:   strings.TrimSpace(req.Hostname),
		Enabled:    enabled,
	}
	if err := orm.Create(&model).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	static := model.toAPI()
	a.publishJSON(ctx, subjectConfigUpdated, map[string]any{
		"kind":         "static_ip",
		"action":       "created",
		"static_ip_id": static.ID,
		"subnet_id":    static.SubnetID,
	})
	respondJSON(w, http.StatusOK, map[string]any{"static_ip": static})
}

func (a *API) handleDeleteStaticIP(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res := a.store.ORM.WithContext(ctx).Delete(&staticIPModel{}, "id = ?", id)
	switch {
	case res.Error != nil:
		respondError(w, http.StatusInternalServerError, res.Error)
	case res.RowsAffected == 0:
		respondError(w, http.StatusNotFound, errors.New("static ip not found"))
	default:
		a.publishJSON(ctx, subjectConfigUpdated, map[string]any{
			"kind":         "static_ip",
			"action":       "deleted",
			"static_ip_id": id,
		})
		respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
	}
}
