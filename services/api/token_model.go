package api

import (
	"time"

	"github.com/google/uuid"
)

type apiTokenModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name       string     `gorm:"type:text;uniqueIndex;not null"`
	TokenHash  string     `gorm:"column:token_hash;type:text;not null"`
	Enabled    bool       `gorm:"not null;default:true"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	LastUsedAt *time.Time `gorm:"type:timestamptz"`
}

func (apiTokenModel) TableName() string { return "api_tokens" }

func (m apiTokenModel) toAPI() APIToken {
	return APIToken{
		ID:         m.ID,
		Name:       m.Name,
		Enabled:    m.Enabled,
		CreatedAt:  m.CreatedAt,
		LastUsedAt: m.LastUsedAt,
	}
}
