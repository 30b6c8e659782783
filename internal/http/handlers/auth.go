package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"sacco/internal/domain"
	"sacco/internal/domain/models"
	"sacco/internal/http/middleware"
	"sacco/internal/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the account storage the auth handlers need.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	InsertUser(ctx context.Context, u *models.User) error
}

type Auth struct {
	Users  UserStore
	Secret []byte
	Now    func() time.Time
}

func (a Auth) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/auth/login.
func (a Auth) Login(c *gin.Context) {
	var req loginRequest
	if !BindJSONOrError(c, &req) {
		return
	}

	user, err := a.Users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if domain.IsNotFound(err) {
			respondError(c, http.StatusUnauthorized, "invalid_credentials", "wrong email or password", nil)
			return
		}
		RespondDomainError(c, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		respondError(c, http.StatusUnauthorized, "invalid_credentials", "wrong email or password", nil)
		return
	}
	if user.Status != models.UserActive {
		respondError(c, http.StatusForbidden, "forbidden", "account is not active", nil)
		return
	}

	token, err := middleware.IssueToken(a.Secret, user.ID, user.Role, a.now())
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	utils.LogEvent(middleware.GetRequestID(c), "auth", "login", "user="+user.Email)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// Register handles POST /api/auth/register. New accounts are always riders.
func (a Auth) Register(c *gin.Context) {
	var req registerRequest
	if !BindJSONOrError(c, &req) {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	user := models.User{
		Name:         utils.NormalizeSpace(req.Name),
		Email:        strings.TrimSpace(req.Email),
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: string(hash),
		Role:         domain.RoleCustomer,
		Status:       models.UserActive,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.Users.InsertUser(c.Request.Context(), &user); err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "registration successful", "user": user})
}
