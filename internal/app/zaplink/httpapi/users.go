package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gdg-charusat/zaplink/gee"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/repo"
	"github.com/gdg-charusat/zaplink/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

type credentialsRequest struct {
	UserName string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	ID       int64  `json:"id"`
	UserName string `json:"username"`
}

func NewRegisterHandler(users UserStore) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		var req credentialsRequest
		if err := ctx.BindJSON(&req); err != nil {
			return
		}
		userID, err := users.Register(ctx.Req.Context(), req.UserName, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, repo.ErrUserAlreadyExists):
				ctx.AbortWithError(http.StatusConflict, err.Error())
			case errors.Is(err, repo.ErrInvalidPassword), errors.Is(err, repo.ErrInvalidUsername):
				ctx.AbortWithError(http.StatusBadRequest, err.Error())
			default:
				abortDenied(ctx, err)
			}
			return
		}
		ctx.JSON(http.StatusCreated, RegisterResponse{ID: userID, UserName: req.UserName})
	}
}

func NewLoginHandler(users UserStore, ts auth.TokenService) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		var req credentialsRequest
		if err := ctx.BindJSON(&req); err != nil {
			return
		}
		dbctx, cancel := context.WithTimeout(ctx.Req.Context(), 1*time.Second)
		defer cancel()
		user, err := users.FindByUsername(dbctx, req.UserName)
		if err != nil {
			if errors.Is(err, repo.ErrUserNotFound) {
				ctx.AbortWithError(http.StatusUnauthorized, "invalid credentials")
				return
			}
			slog.Error("find user failed", "request_id", ctx.RequestID(), "err", err)
			ctx.AbortWithError(http.StatusInternalServerError, "internal error")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			ctx.AbortWithError(http.StatusUnauthorized, "invalid credentials")
			return
		}

		token, err := ts.Sign(user.ID, user.Role)
		if err != nil {
			slog.Error("sign token failed", "request_id", ctx.RequestID(), "err", err)
			ctx.AbortWithError(http.StatusInternalServerError, "sign failed")
			return
		}
		ctx.JSON(http.StatusOK, map[string]string{"token": token})
	}
}

func NewUserMeHandler() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		id, ok := auth.GetIdentity(ctx.Req.Context())
		if !ok {
			ctx.AbortWithError(http.StatusUnauthorized, "not login")
			return
		}
		ctx.JSON(http.StatusOK, gee.H{
			"user_id": id.UserID,
			"role":    id.Role,
		})
	}
}
