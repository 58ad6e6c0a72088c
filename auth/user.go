package auth

import (
	"errors"
	"net/http"
)

// PublicUser is what a user may see about themselves.
type PublicUser struct {
	ID       string `json:"id"`
	DNI      string `json:"dni"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

func (env *Env) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r)
	if err != nil {
		RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := env.Users.GetUserByID(r.Context(), userID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		RespondWithError(w, http.StatusNotFound, "User not found")
		return
	case err != nil:
		env.logger().Error("get user", "user_id", userID, "err", err)
		RespondWithError(w, http.StatusInternalServerError, "Failed to get user")
		return
	}

	JSON(w, http.StatusOK, PublicUser{
		ID:       user.ID,
		DNI:      user.DNI,
		FullName: user.FullName,
		Email:    user.Email,
	})
}
