// Package entity defines the typed shapes of mirrored records.
//
// Every struct marshals to the flat JSON document the server exchanges and
// the mirror stores: camelCase keys, money in integer cents, timestamps as
// RFC 3339 strings. Kind ties a struct to its collection in the schema
// registry.
package entity

import (
	"time"

	"github.com/10d3/nexora/internal/schema"
)

// Entity is implemented by every mirrored type.
type Entity interface {
	Kind() schema.Kind
}

// Meta carries the lifecycle fields every record may have.
type Meta struct {
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
	Meta
}

func (User) Kind() schema.Kind { return schema.KindUser }

type Tenant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug,omitempty"`
	PlanID  string `json:"planId,omitempty"`
	OwnerID string `json:"ownerId,omitempty"`
	Meta
}

func (Tenant) Kind() schema.Kind { return schema.KindTenant }

// CustomerProfile is a tenant's customer.
type CustomerProfile struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	LoyaltyPoints int64  `json:"loyaltyPoints,omitempty"`
	Notes         string `json:"notes,omitempty"`
	Meta
}

func (CustomerProfile) Kind() schema.Kind { return schema.KindCustomerProfile }

type Project struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Meta
}

func (Project) Kind() schema.Kind { return schema.KindProject }

type Task struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	ProjectID  string `json:"projectId"`
	Title      string `json:"title"`
	Status     string `json:"status,omitempty"`
	AssigneeID string `json:"assigneeId,omitempty"`
	DueAt      string `json:"dueAt,omitempty"`
	Meta
}

func (Task) Kind() schema.Kind { return schema.KindTask }

type Asset struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	Name      string `json:"name"`
	AssetKind string `json:"kind,omitempty"`
	URL       string `json:"url,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
	Meta
}

func (Asset) Kind() schema.Kind { return schema.KindAsset }

// Order is a point-of-sale order. Totals are in minor units.
type Order struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	Status     string `json:"status"`
	CustomerID string `json:"customerId,omitempty"`
	SiteID     string `json:"siteId,omitempty"`
	TotalCents int64  `json:"totalCents,omitempty"`
	Currency   string `json:"currency,omitempty"`
	Meta
}

func (Order) Kind() schema.Kind { return schema.KindOrder }

type OrderItem struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenantId"`
	OrderID        string `json:"orderId"`
	ProductID      string `json:"productId"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Meta
}

func (OrderItem) Kind() schema.Kind { return schema.KindOrderItem }

// LineTotalCents is quantity times unit price.
func (i OrderItem) LineTotalCents() int64 {
	return i.Quantity * i.UnitPriceCents
}

type Category struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
	Position int64  `json:"position,omitempty"`
	Meta
}

func (Category) Kind() schema.Kind { return schema.KindCategory }

type Product struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	SKU        string `json:"sku,omitempty"`
	CategoryID string `json:"categoryId,omitempty"`
	Active     bool   `json:"active,omitempty"`
	Stock      int64  `json:"stock,omitempty"`
	Meta
}

func (Product) Kind() schema.Kind { return schema.KindProduct }

type Site struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Meta
}

func (Site) Kind() schema.Kind { return schema.KindSite }

type Member struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	Meta
}

func (Member) Kind() schema.Kind { return schema.KindMember }

type Invitation struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	Email     string `json:"email"`
	Role      string `json:"role,omitempty"`
	Status    string `json:"status,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Meta
}

func (Invitation) Kind() schema.Kind { return schema.KindInvitation }

type SubscriptionPlan struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	PriceCents int64    `json:"priceCents,omitempty"`
	Interval   string   `json:"interval,omitempty"`
	Features   []string `json:"features,omitempty"`
	Meta
}

func (SubscriptionPlan) Kind() schema.Kind { return schema.KindSubscriptionPlan }

// Settings holds per-tenant preferences. One record per tenant.
type Settings struct {
	ID                 string `json:"id"`
	TenantID           string `json:"tenantId"`
	Currency           string `json:"currency,omitempty"`
	Locale             string `json:"locale,omitempty"`
	Timezone           string `json:"timezone,omitempty"`
	TaxRateBasisPoints int64  `json:"taxRateBasisPoints,omitempty"`
	ReceiptFooter      string `json:"receiptFooter,omitempty"`
	Meta
}

func (Settings) Kind() schema.Kind { return schema.KindSettings }
