package storage

import (
	"context"

	"github.com/salonops/booker/internal/booking"
	"github.com/salonops/booker/internal/model"
	"github.com/salonops/booker/internal/scheduler"
	"github.com/salonops/booker/libs/db"
)

// CatalogRepository resolves services, staff and customers within a
// company scope. It backs both the engine's reference checks and the
// scheduler's contact snapshots.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) GetActiveService(ctx context.Context, companyID, serviceID string) (model.ServiceDefinition, error) {
	var svc model.ServiceDefinition
	err := r.pool.QueryRow(ctx, `
		SELECT id, company_id, name, price, duration_minutes, active, created_at
		FROM services
		WHERE id = $1 AND company_id = $2 AND active
	`, serviceID, companyID).Scan(
		&svc.ID, &svc.CompanyID, &svc.Name, &svc.Price, &svc.DurationMins, &svc.Active, &svc.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return model.ServiceDefinition{}, &booking.NotFoundError{Kind: "service", ID: serviceID}
		}
		return model.ServiceDefinition{}, err
	}
	return svc, nil
}

func (r *CatalogRepository) StaffExists(ctx context.Context, companyID, staffID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM staff WHERE id = $1 AND company_id = $2 AND active)
	`, staffID, companyID).Scan(&exists)
	return exists, err
}

func (r *CatalogRepository) CustomerExists(ctx context.Context, companyID, customerID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1 AND company_id = $2)
	`, customerID, companyID).Scan(&exists)
	return exists, err
}

func (r *CatalogRepository) CustomerContact(ctx context.Context, companyID, customerID string) (scheduler.Contact, error) {
	var c scheduler.Contact
	err := r.pool.QueryRow(ctx, `
		SELECT name, COALESCE(email, ''), COALESCE(phone, '')
		FROM customers
		WHERE id = $1 AND company_id = $2
	`, customerID, companyID).Scan(&c.Name, &c.Email, &c.Phone)
	if err != nil {
		if isNoRows(err) {
			return scheduler.Contact{}, &booking.NotFoundError{Kind: "customer", ID: customerID}
		}
		return scheduler.Contact{}, err
	}
	return c, nil
}
