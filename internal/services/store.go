package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"ebs-gateway/internal/database"
	"ebs-gateway/internal/gateway"
	"ebs-gateway/internal/models"

	"gorm.io/gorm"
)

// Store serves credential, policy and organizer lookups from the API
// database. Reads go to a replica, writes to the primary.
type Store struct {
	db *database.DBManager
}

func NewStore(db *database.DBManager) *Store {
	return &Store{db: db}
}

func (s *Store) FindCredential(ctx context.Context, clientKey, secretKey string) (*gateway.Credential, error) {
	var key models.APIKey
	err := s.db.GetReadDB().WithContext(ctx).
		Where("client_key = ? AND secret_key = ?", clientKey, secretKey).
		Limit(1).
		Take(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toCredential(key), nil
}

func (s *Store) TouchLastUsed(ctx context.Context, credentialID int64, at time.Time) error {
	return s.db.WriteDB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", credentialID).
		UpdateColumn("last_used_at", at).Error
}

func (s *Store) LimitRules(ctx context.Context, credentialID int64) ([]gateway.LimitRule, error) {
	var rows []models.APIKeyLimit
	err := s.db.GetReadDB().WithContext(ctx).
		Where("api_key_id = ?", credentialID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	rules := make([]gateway.LimitRule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, gateway.LimitRule{
			RoutePrefix: gateway.NormalizeRoutePrefix(r.RoutePrefix),
			PerMinute:   r.PerMin,
			Burst:       r.Burst,
		})
	}
	return rules, nil
}

func (s *Store) IPRules(ctx context.Context, credentialID int64) ([]gateway.IPRule, error) {
	var patterns []string
	err := s.db.GetReadDB().WithContext(ctx).
		Model(&models.APIKeyIP{}).
		Where("api_key_id = ?", credentialID).
		Order("id").
		Pluck("ip_pattern", &patterns).Error
	if err != nil {
		return nil, err
	}

	rules := make([]gateway.IPRule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, gateway.IPRule{Pattern: p})
	}
	return rules, nil
}

// OrganizerOf returns the organizer code of userID, or "" when the user does
// not exist.
func (s *Store) OrganizerOf(ctx context.Context, userID int64) (string, error) {
	var user models.User
	err := s.db.GetReadDB().WithContext(ctx).
		Select("organizer").
		Where("id = ?", userID).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(user.Organizer), nil
}

func toCredential(k models.APIKey) *gateway.Credential {
	c := &gateway.Credential{
		ID:         k.ID,
		UserID:     k.UserID,
		ClientKey:  k.ClientKey,
		SecretKey:  k.SecretKey,
		Status:     gateway.Status(strings.ToLower(strings.TrimSpace(k.Status))),
		LastUsedAt: k.LastUsedAt,
	}
	if k.ExpiresAt != nil {
		c.ExpiresAt = *k.ExpiresAt
	}
	return c
}
