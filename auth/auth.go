package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// --- Models ---

type User struct {
	ID               string    `json:"id"`
	DNI              string    `json:"dni"`
	GeneratedPinHash string    `json:"-"`
	FullName         string    `json:"full_name"`
	Email            string    `json:"email"`
	CreatedAt        time.Time `json:"created_at"`
}

type SignupRequest struct {
	FullName string `json:"full_name"`
	DNI      string `json:"dni"`
	Email    string `json:"email"`
}

type LoginRequest struct {
	DNI string `json:"dni"`
	Pin string `json:"pin"`
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.StandardClaims
}

// --- Storage ---

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// UserStore is the persistence the identity provider needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *User, pinHash string) (string, error)
	GetUserByDNI(ctx context.Context, dni string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdatePinHash(ctx context.Context, userID, newPinHash string) error
}

// --- JWT ---

// Authenticator issues and verifies session tokens.
type Authenticator struct {
	key []byte
	ttl time.Duration
}

func NewAuthenticator(secret string, ttlHours int) *Authenticator {
	if ttlHours <= 0 {
		ttlHours = 24
	}
	return &Authenticator{key: []byte(secret), ttl: time.Duration(ttlHours) * time.Hour}
}

func (a *Authenticator) GenerateJWT(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(a.ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.key)
}

func (a *Authenticator) ValidateJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// --- Handlers ---

type Env struct {
	Users  UserStore
	Tokens *Authenticator
	Logger *slog.Logger
}

func (env *Env) logger() *slog.Logger {
	if env.Logger != nil {
		return env.Logger
	}
	return slog.Default()
}

// SignupHandler expects ValidateSignupRequest to have run first.
func (env *Env) SignupHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := signupRequestFrom(r.Context())
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	pin, pinHash, err := GeneratePINAndHash()
	if err != nil {
		env.logger().Error("generate pin", "err", err)
		RespondWithError(w, http.StatusInternalServerError, "Failed to generate PIN")
		return
	}

	user := &User{DNI: req.DNI, FullName: req.FullName, Email: req.Email}
	userID, err := env.Users.CreateUser(r.Context(), user, pinHash)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			RespondWithError(w, http.StatusConflict, "User already exists")
			return
		}
		env.logger().Error("create user", "err", err)
		RespondWithError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	JSON(w, http.StatusCreated, map[string]string{"user_id": userID, "pin": pin})
}

func (env *Env) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := env.Users.GetUserByDNI(r.Context(), strings.ToUpper(strings.TrimSpace(req.DNI)))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			env.logger().Error("lookup user", "err", err)
		}
		RespondWithError(w, http.StatusUnauthorized, "Invalid DNI or PIN")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.GeneratedPinHash), []byte(req.Pin)); err != nil {
		RespondWithError(w, http.StatusUnauthorized, "Invalid DNI or PIN")
		return
	}

	tokenString, err := env.Tokens.GenerateJWT(user.ID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"token": tokenString})
}

func (env *Env) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r)
	if err != nil {
		RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	newPin, newPinHash, err := GeneratePINAndHash()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to generate new PIN")
		return
	}

	if err := env.Users.UpdatePinHash(r.Context(), userID, newPinHash); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		env.logger().Error("update pin", "user_id", userID, "err", err)
		RespondWithError(w, http.StatusInternalServerError, "Failed to update PIN")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"pin": newPin})
}

// RefreshHandler trades a still-valid token for a fresh one.
func (env *Env) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	tokenString, ok := bearerToken(r)
	if !ok {
		RespondWithError(w, http.StatusUnauthorized, "Authorization header required")
		return
	}

	claims, err := env.Tokens.ValidateJWT(tokenString)
	if err != nil {
		RespondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	newToken, err := env.Tokens.GenerateJWT(claims.UserID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"token": newToken})
}

func (env *Env) StatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r)
	if err != nil {
		RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "authenticated", "user_id": userID})
}

// --- Middleware ---

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			RespondWithError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		tokenString, ok := bearerToken(r)
		if !ok {
			RespondWithError(w, http.StatusUnauthorized, "Invalid token format")
			return
		}

		claims, err := a.ValidateJWT(tokenString)
		if err != nil {
			RespondWithError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), claims.UserID)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if authHeader == "" || tokenString == authHeader {
		return "", false
	}
	return tokenString, true
}
