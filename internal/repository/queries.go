package repository

import (
	"context"

	"github.com/10d3/nexora/internal/entity"
	"github.com/10d3/nexora/internal/mirror"
)

// CustomerProfile returns the mirrored customer with the given id.
func CustomerProfile(ctx context.Context, b Backend, id string) (entity.CustomerProfile, bool, error) {
	return For[entity.CustomerProfile](b).Get(ctx, id)
}

// CustomerProfilesByTenant lists customers ordered by last then first name.
func CustomerProfilesByTenant(ctx context.Context, b Backend, tenantID string) ([]entity.CustomerProfile, error) {
	return For[entity.CustomerProfile](b).ByTenant(ctx, tenantID)
}

// SaveCustomerProfile upserts a customer into the mirror.
func SaveCustomerProfile(ctx context.Context, b Backend, c entity.CustomerProfile) (string, error) {
	return For[entity.CustomerProfile](b).Save(ctx, c)
}

// ProductsByTenant lists the tenant's products.
func ProductsByTenant(ctx context.Context, b Backend, tenantID string) ([]entity.Product, error) {
	return For[entity.Product](b).ByTenant(ctx, tenantID)
}

// ProductsByCategory lists the tenant's products in a category.
func ProductsByCategory(ctx context.Context, b Backend, tenantID, categoryID string) ([]entity.Product, error) {
	return For[entity.Product](b).ByIndex(ctx, tenantID, mirror.IndexQuery{
		Index: "category",
		Equal: []any{categoryID},
	})
}

// SaveProduct upserts a product into the mirror.
func SaveProduct(ctx context.Context, b Backend, p entity.Product) (string, error) {
	return For[entity.Product](b).Save(ctx, p)
}

// RecentOrders returns the tenant's orders in a status, newest first.
// limit <= 0 means no limit.
func RecentOrders(ctx context.Context, b Backend, tenantID, status string, limit int) ([]entity.Order, error) {
	return For[entity.Order](b).ByIndex(ctx, tenantID, mirror.IndexQuery{
		Index:      "recent",
		Equal:      []any{tenantID, status},
		Descending: true,
		Limit:      limit,
	})
}

// SaveOrder upserts an order into the mirror.
func SaveOrder(ctx context.Context, b Backend, o entity.Order) (string, error) {
	return For[entity.Order](b).Save(ctx, o)
}

// OrderItems lists the line items of an order.
func OrderItems(ctx context.Context, b Backend, tenantID, orderID string) ([]entity.OrderItem, error) {
	return For[entity.OrderItem](b).ByIndex(ctx, tenantID, mirror.IndexQuery{
		Index: "order",
		Equal: []any{orderID},
	})
}

// OrderTotalCents sums the line totals of an order's items.
func OrderTotalCents(ctx context.Context, b Backend, tenantID, orderID string) (int64, error) {
	items, err := OrderItems(ctx, b, tenantID, orderID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, it := range items {
		total += it.LineTotalCents()
	}
	return total, nil
}

// CategoriesByTenant lists the tenant's categories.
func CategoriesByTenant(ctx context.Context, b Backend, tenantID string) ([]entity.Category, error) {
	return For[entity.Category](b).ByTenant(ctx, tenantID)
}

// TasksByProject lists the tasks of a project.
func TasksByProject(ctx context.Context, b Backend, tenantID, projectID string) ([]entity.Task, error) {
	return For[entity.Task](b).ByIndex(ctx, tenantID, mirror.IndexQuery{
		Index: "project",
		Equal: []any{projectID},
	})
}

// MembersByUser lists a user's memberships across tenants.
func MembersByUser(ctx context.Context, b Backend, userID string) ([]entity.Member, error) {
	return For[entity.Member](b).ByIndex(ctx, "", mirror.IndexQuery{
		Index: "user",
		Equal: []any{userID},
	})
}

// TenantSettings returns the tenant's settings record, if mirrored.
func TenantSettings(ctx context.Context, b Backend, tenantID string) (entity.Settings, bool, error) {
	all, err := For[entity.Settings](b).ByTenant(ctx, tenantID)
	if err != nil || len(all) == 0 {
		return entity.Settings{}, false, err
	}
	return all[0], true, nil
}
