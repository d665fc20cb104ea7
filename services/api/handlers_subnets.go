package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (a *API) handleListSubnets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var models []subnetModel
	if err := a.store.ORM.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	subnets := make([]Subnet, 0, len(models))
	for _, m := range models {
		subnets = append(subnets, m.toAPI())
	}
	respondJSON(w, http.StatusOK, map[string]any{"subnets": subnets})
}

func (a *API) handleCreateSubnet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Network    string   `json:"network"`
		PrefixLen  int      `json:"prefix_len"`
		Gateway    string   `json:"gateway"`
		DNSServers []string `json:"dns_servers"`
		DomainName string   `json:"domain_name"`
		Enabled    *bool    `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	network, err := parseIPv4("network", strings.TrimSpace(req.Network))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.PrefixLen < 1 || req.PrefixLen > 31 {
		respondError(w, http.StatusBadRequest, errors.New("prefix_len must be between 1 and 31"))
		return
	}
	gateway, err := parseIPv4("gateway", strings.TrimSpace(req.Gateway))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	network = networkAddress(network, req.PrefixLen)
	if !inSubnet(network, req.PrefixLen, gateway) {
		respondError(w, http.StatusBadRequest, errors.New("gateway is outside the subnet"))
		return
	}

	dns := make([]string, 0, len(req.DNSServers))
	for _, raw := range req.DNSServers {
		ip, err := parseIPv4("dns server", strings.TrimSpace(raw))
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		dns = append(dns, ip.String())
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	model := subnetModel{
		ID:         uuid.New(),
		Network:    network.String(),
		PrefixLen:  int16(req.PrefixLen),
		Gateway:    gateway.String(),
		DNSServers: stringsToJSON(dns),
		DomainName: strings.TrimSpace(req.DomainName),
		Enabled:    enabled,
	}
	if err := a.store.ORM.WithContext(ctx).Create(&model).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	subnet := model.toAPI()
	a.publishJSON(ctx, subjectConfigUpdated, map[string]any{
		"kind":      "subnet",
		"action":    "created",
		"subnet_id": subnet.ID,
	})
	respondJSON(w, http.StatusOK, map[string]any{"subnet": subnet})
}

func (a *API) handleGetSubnet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var model subnetModel
	err = a.store.ORM.WithContext(ctx).First(&model, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, errors.New("subnet not found"))
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"subnet": model.toAPI()})
	}
}

func (a *API) handleDeleteSubnet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	// Ranges and static assignments belong to the subnet and go with it.
	// Lease rows stay behind as history.
	err = a.store.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&subnetModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Delete(&rangeModel{}, "subnet_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&staticIPModel{}, "subnet_id = ?", id).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, errors.New("subnet not found"))
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		a.publishJSON(ctx, subjectConfigUpdated, map[string]any{
			"kind":      "subnet",
			"action":    "deleted",
			"subnet_id": id,
		})
		respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
	}
}
