// internal/domain/reconcile/user.go
package reconcile

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/your-org/marketplace-billing/internal/domain/customer"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
)

// userResolver ties gateway objects to local users. Metadata written at
// checkout wins; the stored customer mapping is the fallback.
type userResolver struct {
	customers *customer.Service
}

// fromMetadata reads the user id embedded at checkout, including the legacy key
func fromMetadata(metadata map[string]string, clientReferenceID string) (uuid.UUID, bool) {
	for _, raw := range []string{
		metadata[gateway.MetaUserID],
		metadata[gateway.MetaLegacyUserID],
		clientReferenceID,
	} {
		if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil && id != uuid.Nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (r userResolver) resolve(ctx context.Context, metadata map[string]string, clientReferenceID, customerID string) (uuid.UUID, error) {
	if id, ok := fromMetadata(metadata, clientReferenceID); ok {
		return id, nil
	}
	id, ok, err := r.customers.UserIDForCustomer(ctx, customerID)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, ErrUnresolvableUser
	}
	return id, nil
}
