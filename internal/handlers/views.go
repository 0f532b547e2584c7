package handlers

import (
	"time"

	"plantscan/api/internal/models"
	"plantscan/api/internal/service"
	"plantscan/api/internal/storage"
)

// userResponse never carries the password hash.
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	AvatarURL *string   `json:"avatarUrl"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.DisplayName,
		AvatarURL: u.AvatarURL,
		Provider:  string(u.Provider),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type authResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

type subscriptionResponse struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	PlanType         string    `json:"planType"`
	BillingCycle     string    `json:"billingCycle"`
	Status           string    `json:"status"`
	StartDate        time.Time `json:"startDate"`
	EndDate          time.Time `json:"endDate"`
	PaymentReference *string   `json:"paymentReference"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func newSubscriptionResponse(s *models.Subscription) *subscriptionResponse {
	if s == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:               s.ID,
		UserID:           s.UserID,
		PlanType:         string(s.PlanType),
		BillingCycle:     string(s.BillingCycle),
		Status:           string(s.Status),
		StartDate:        s.StartDate,
		EndDate:          s.EndDate,
		PaymentReference: s.PaymentReference,
		Amount:           s.Amount,
		Currency:         s.Currency,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

type scanCounterResponse struct {
	UserID    string    `json:"userId"`
	Date      string    `json:"date"`
	ScanCount int       `json:"scanCount"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newScanCounterResponse(c models.ScanCounter) scanCounterResponse {
	return scanCounterResponse{
		UserID:    c.UserID,
		Date:      c.ScanDate,
		ScanCount: c.ScanCount,
		UpdatedAt: c.UpdatedAt,
	}
}

type reservationResponse struct {
	Allowed   bool   `json:"allowed"`
	Unlimited bool   `json:"unlimited"`
	Date      string `json:"date"`
	ScanCount int    `json:"scanCount"`
	Remaining *int   `json:"remaining"`
}

func newReservationResponse(r service.ScanReservation) reservationResponse {
	return reservationResponse{
		Allowed:   r.Allowed,
		Unlimited: r.Unlimited,
		Date:      r.ScanDate,
		ScanCount: r.ScanCount,
		Remaining: r.Remaining,
	}
}

type entitlementResponse struct {
	CanScan      bool                  `json:"canScan"`
	Unlimited    bool                  `json:"unlimited"`
	Limit        int                   `json:"limit"`
	Date         string                `json:"date"`
	ScansToday   int                   `json:"scansToday"`
	Remaining    *int                  `json:"remaining"`
	Subscription *subscriptionResponse `json:"subscription"`
}

func newEntitlementResponse(s service.Summary) entitlementResponse {
	return entitlementResponse{
		CanScan:      s.CanScan,
		Unlimited:    s.Unlimited,
		Limit:        s.Limit,
		Date:         s.ScanDate,
		ScansToday:   s.ScansToday,
		Remaining:    s.Remaining,
		Subscription: newSubscriptionResponse(s.Subscription),
	}
}

type avatarUploadResponse struct {
	UploadURL string    `json:"uploadUrl"`
	PublicURL string    `json:"publicUrl"`
	ObjectKey string    `json:"objectKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newAvatarUploadResponse(u storage.AvatarUpload) avatarUploadResponse {
	return avatarUploadResponse{
		UploadURL: u.UploadURL,
		PublicURL: u.PublicURL,
		ObjectKey: u.ObjectKey,
		ExpiresAt: u.ExpiresAt,
	}
}
