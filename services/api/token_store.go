package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrTokenNotFound is returned when no token row matches the presented id.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenDisabled is returned for tokens that exist but were switched off.
	ErrTokenDisabled = errors.New("token disabled")
	// ErrTokenInvalid is returned for malformed values and secret mismatches.
	ErrTokenInvalid = errors.New("token invalid")
)

type tokenStore struct {
	orm *gorm.DB
}

func newTokenStore(orm *gorm.DB) *tokenStore {
	return &tokenStore{orm: orm}
}

// Issue creates a named token and returns it together with the one-time
// secret value handed to the caller. Only the hash is persisted.
func (s *tokenStore) Issue(ctx context.Context, name string) (APIToken, string, error) {
	secret, err := newTokenSecret()
	if err != nil {
		return APIToken{}, "", err
	}
	hash, err := hashSecret(secret)
	if err != nil {
		return APIToken{}, "", err
	}

	model := apiTokenModel{
		ID:        uuid.New(),
		Name:      name,
		TokenHash: hash,
		Enabled:   true,
	}
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return APIToken{}, "", err
	}
	return model.toAPI(), model.ID.String() + "." + secret, nil
}

// Verify checks a presented "<id>.<secret>" value and stamps last_used_at
// on success.
func (s *tokenStore) Verify(ctx context.Context, value string) (*APIToken, error) {
	id, secret, err := splitTokenValue(value)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	var model apiTokenModel
	err = s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrTokenNotFound
	case err != nil:
		return nil, err
	}
	if !model.Enabled {
		return nil, ErrTokenDisabled
	}

	ok, err := verifySecret(model.TokenHash, secret)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTokenInvalid
	}

	now := time.Now().UTC()
	_ = s.orm.WithContext(ctx).Model(&apiTokenModel{}).
		Where("id = ?", id).Update("last_used_at", now).Error
	model.LastUsedAt = &now

	token := model.toAPI()
	return &token, nil
}

func (s *tokenStore) List(ctx context.Context) ([]APIToken, error) {
	var models []apiTokenModel
	if err := s.orm.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]APIToken, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

// Toggle flips the enabled flag and returns the updated token.
func (s *tokenStore) Toggle(ctx context.Context, id uuid.UUID) (*APIToken, error) {
	var model apiTokenModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrTokenNotFound
	case err != nil:
		return nil, err
	}

	model.Enabled = !model.Enabled
	if err := s.orm.WithContext(ctx).Model(&apiTokenModel{}).
		Where("id = ?", id).Update("enabled", model.Enabled).Error; err != nil {
		return nil, err
	}

	token := model.toAPI()
	return &token, nil
}

func (s *tokenStore) Delete(ctx context.Context, id uuid.UUID) error {
	res := s.orm.WithContext(ctx).Delete(&apiTokenModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}
