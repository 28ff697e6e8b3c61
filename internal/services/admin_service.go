package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ebs-gateway/internal/database"
	"ebs-gateway/internal/gateway"
	"ebs-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("credential not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Invalidator drops cached state of a credential after it changes.
type Invalidator interface {
	Invalidate(ctx context.Context, credentialID int64) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context, credentialID int64) error

func (f InvalidatorFunc) Invalidate(ctx context.Context, credentialID int64) error {
	return f(ctx, credentialID)
}

type LimitInput struct {
	RoutePrefix string `json:"route_prefix"`
	PerMin      int    `json:"per_min"`
	Burst       *int   `json:"burst,omitempty"`
}

type CreateCredentialInput struct {
	UserID    int64        `json:"user_id"`
	Name      string       `json:"name"`
	ExpiresAt time.Time    `json:"expires_at"`
	Limits    []LimitInput `json:"limits"`
	IPs       []string     `json:"ips"`
}

type UpdateCredentialInput struct {
	Status    *string    `json:"status"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type CredentialView struct {
	ID         int64        `json:"id"`
	UserID     int64        `json:"user_id"`
	Name       string       `json:"name"`
	ClientKey  string       `json:"client_key"`
	SecretKey  string       `json:"secret_key,omitempty"`
	Status     string       `json:"status"`
	ExpiresAt  *time.Time   `json:"expires_at"`
	LastUsedAt *time.Time   `json:"last_used_at"`
	Limits     []LimitInput `json:"limits"`
	IPs        []string     `json:"ips"`
}

// AdminService manages credentials and their policies. Every change is
// followed by an invalidation so gateways stop serving the old state.
type AdminService struct {
	db          *database.DBManager
	invalidator Invalidator
	now         func() time.Time
}

func NewAdminService(db *database.DBManager, invalidator Invalidator) *AdminService {
	return &AdminService{db: db, invalidator: invalidator, now: time.Now}
}

func (s *AdminService) CreateCredential(ctx context.Context, in CreateCredentialInput) (*CredentialView, error) {
	if in.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !in.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	limits, err := validateLimits(in.Limits)
	if err != nil {
		return nil, err
	}
	ips, err := validateIPs(in.IPs)
	if err != nil {
		return nil, err
	}

	expires := in.ExpiresAt
	key := models.APIKey{
		UserID:    in.UserID,
		Name:      in.Name,
		ClientKey: "ck_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		SecretKey: "sk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""),
		Status:    string(gateway.StatusActive),
		ExpiresAt: &expires,
	}

	err = s.db.WriteDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&key).Error; err != nil {
			return err
		}
		if err := replaceLimits(tx, key.ID, limits); err != nil {
			return err
		}
		return replaceIPs(tx, key.ID, ips)
	})
	if err != nil {
		return nil, err
	}

	view := toView(key, limits, ips)
	view.SecretKey = key.SecretKey
	return view, nil
}

func (s *AdminService) GetCredential(ctx context.Context, id int64) (*CredentialView, error) {
	db := s.db.WriteDB.WithContext(ctx)

	var key models.APIKey
	if err := db.Where("id = ?", id).Take(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var limits []models.APIKeyLimit
	if err := db.Where("api_key_id = ?", id).Order("id").Find(&limits).Error; err != nil {
		return nil, err
	}
	var ips []models.APIKeyIP
	if err := db.Where("api_key_id = ?", id).Order("id").Find(&ips).Error; err != nil {
		return nil, err
	}

	return toView(key, limits, ips), nil
}

func (s *AdminService) UpdateCredential(ctx context.Context, id int64, in UpdateCredentialInput) (*CredentialView, error) {
	updates := map[string]interface{}{}
	if in.Status != nil {
		status := gateway.Status(strings.ToLower(strings.TrimSpace(*in.Status)))
		if !status.Valid() {
			return nil, fmt.Errorf("%w: status must be active, suspended or revoked", ErrInvalidInput)
		}
		updates["status"] = string(status)
	}
	if in.ExpiresAt != nil {
		updates["expires_at"] = *in.ExpiresAt
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}

	res := s.db.WriteDB.WithContext(ctx).Model(&models.APIKey{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetCredential(ctx, id); err != nil {
			return nil, err
		}
	}
	if err := s.invalidator.Invalidate(ctx, id); err != nil {
		return nil, err
	}
	return s.GetCredential(ctx, id)
}

func (s *AdminService) ReplaceLimits(ctx context.Context, id int64, in []LimitInput) (*CredentialView, error) {
	limits, err := validateLimits(in)
	if err != nil {
		return nil, err
	}
	err = s.withCredential(ctx, id, func(tx *gorm.DB) error {
		return replaceLimits(tx, id, limits)
	})
	if err != nil {
		return nil, err
	}
	return s.GetCredential(ctx, id)
}

func (s *AdminService) ReplaceIPs(ctx context.Context, id int64, in []string) (*CredentialView, error) {
	ips, err := validateIPs(in)
	if err != nil {
		return nil, err
	}
	err = s.withCredential(ctx, id, func(tx *gorm.DB) error {
		return replaceIPs(tx, id, ips)
	})
	if err != nil {
		return nil, err
	}
	return s.GetCredential(ctx, id)
}

// withCredential runs fn in a transaction after checking the credential
// exists, then invalidates it.
func (s *AdminService) withCredential(ctx context.Context, id int64, fn func(tx *gorm.DB) error) error {
	err := s.db.WriteDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.APIKey{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return fn(tx)
	})
	if err != nil {
		return err
	}
	return s.invalidator.Invalidate(ctx, id)
}

func replaceLimits(tx *gorm.DB, id int64, limits []models.APIKeyLimit) error {
	if err := tx.Where("api_key_id = ?", id).Delete(&models.APIKeyLimit{}).Error; err != nil {
		return err
	}
	if len(limits) == 0 {
		return nil
	}
	for i := range limits {
		limits[i].APIKeyID = id
	}
	return tx.Create(&limits).Error
}

func replaceIPs(tx *gorm.DB, id int64, ips []models.APIKeyIP) error {
	if err := tx.Where("api_key_id = ?", id).Delete(&models.APIKeyIP{}).Error; err != nil {
		return err
	}
	if len(ips) == 0 {
		return nil
	}
	for i := range ips {
		ips[i].APIKeyID = id
	}
	return tx.Create(&ips).Error
}

func validateLimits(in []LimitInput) ([]models.APIKeyLimit, error) {
	out := make([]models.APIKeyLimit, 0, len(in))
	for _, l := range in {
		prefix := strings.TrimSpace(l.RoutePrefix)
		if prefix == "" {
			prefix = gateway.WildcardPrefix
		}
		if prefix != gateway.WildcardPrefix && !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("%w: route_prefix %q must start with / or be *", ErrInvalidInput, prefix)
		}
		if prefix == "/" {
			return nil, fmt.Errorf("%w: route_prefix / is ambiguous, use * for every route", ErrInvalidInput)
		}
		prefix = gateway.NormalizeRoutePrefix(prefix)
		if l.PerMin <= 0 {
			return nil, fmt.Errorf("%w: per_min must be > 0", ErrInvalidInput)
		}
		if l.Burst != nil && *l.Burst < 0 {
			return nil, fmt.Errorf("%w: burst must be >= 0", ErrInvalidInput)
		}
		out = append(out, models.APIKeyLimit{RoutePrefix: prefix, PerMin: l.PerMin, Burst: l.Burst})
	}
	return out, nil
}

func validateIPs(in []string) ([]models.APIKeyIP, error) {
	out := make([]models.APIKeyIP, 0, len(in))
	for _, ip := range in {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			return nil, fmt.Errorf("%w: empty ip pattern", ErrInvalidInput)
		}
		out = append(out, models.APIKeyIP{IPPattern: ip})
	}
	return out, nil
}

func toView(k models.APIKey, limits []models.APIKeyLimit, ips []models.APIKeyIP) *CredentialView {
	v := &CredentialView{
		ID:         k.ID,
		UserID:     k.UserID,
		Name:       k.Name,
		ClientKey:  k.ClientKey,
		Status:     k.Status,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		Limits:     make([]LimitInput, 0, len(limits)),
		IPs:        make([]string, 0, len(ips)),
	}
	for _, l := range limits {
		v.Limits = append(v.Limits, LimitInput{RoutePrefix: l.RoutePrefix, PerMin: l.PerMin, Burst: l.Burst})
	}
	for _, ip := range ips {
		v.IPs = append(v.IPs, ip.IPPattern)
	}
	return v
}
