package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/sep-payments/internal/auth"
)

// orderRef extracts the authenticated user and the {id} path value. Ownership
// itself is checked by the order service.
func orderRef(r *http.Request) (userID, orderID uuid.UUID, appErr *AppError) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, uuid.Nil, ErrMissingToken
	}

	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrResourceNotFound
	}

	return userID, orderID, nil
}
